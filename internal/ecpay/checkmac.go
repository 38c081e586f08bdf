// Package ecpay talks to the ECPay all-in-one checkout and C2C logistics
// APIs: it signs outbound forms, verifies inbound notifications and
// interprets the gateway's text responses.
package ecpay

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// HashMethod selects the digest used for CheckMacValue. Checkout uses
// SHA256 (EncryptType=1); logistics uses MD5.
type HashMethod int

const (
	HashSHA256 HashMethod = iota
	HashMD5
)

const checkMacField = "CheckMacValue"

// dotNetUnescape mirrors the characters HttpUtility.UrlEncode leaves
// literal, which the gateway expects after lowercasing.
var dotNetUnescape = strings.NewReplacer(
	"%2d", "-",
	"%5f", "_",
	"%2e", ".",
	"%21", "!",
	"%2a", "*",
	"%28", "(",
	"%29", ")",
)

// CheckMacValue computes the integrity value over params. Any existing
// CheckMacValue entry is ignored.
func CheckMacValue(params map[string]string, hashKey, hashIV string, method HashMethod) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == checkMacField {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return strings.ToLower(keys[i]) < strings.ToLower(keys[j])
	})

	var b strings.Builder
	b.WriteString("HashKey=")
	b.WriteString(hashKey)
	for _, k := range keys {
		b.WriteByte('&')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	b.WriteString("&HashIV=")
	b.WriteString(hashIV)

	encoded := strings.ToLower(url.QueryEscape(b.String()))
	encoded = dotNetUnescape.Replace(encoded)
	encoded = strings.ReplaceAll(encoded, "~", "%7e")

	var sum []byte
	switch method {
	case HashMD5:
		digest := md5.Sum([]byte(encoded))
		sum = digest[:]
	default:
		digest := sha256.Sum256([]byte(encoded))
		sum = digest[:]
	}
	return strings.ToUpper(hex.EncodeToString(sum))
}

// VerifyCheckMacValue recomputes the integrity value and compares it with
// the supplied one in constant time.
func VerifyCheckMacValue(params map[string]string, hashKey, hashIV string, method HashMethod) bool {
	supplied := strings.ToUpper(strings.TrimSpace(params[checkMacField]))
	if supplied == "" {
		return false
	}
	expected := CheckMacValue(params, hashKey, hashIV, method)
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(expected)) == 1
}

// FormFields flattens a submitted form, keeping the first value of each key.
func FormFields(form url.Values) map[string]string {
	fields := make(map[string]string, len(form))
	for k, v := range form {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}
	return fields
}
