// Package views renders the few HTML documents the API serves directly.
package views

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/a-h/templ"
)

// GatewayForm is a POST the browser forwards to the payment or logistics
// gateway.
type GatewayForm struct {
	ActionURL string
	Fields    map[string]string
}

// PaymentRedirect sends the buyer to the hosted checkout page.
func PaymentRedirect(storeName string, form GatewayForm) templ.Component {
	return autoSubmitPage(pageTitle("Redirecting to payment", storeName), "Redirecting to the secure payment page…", "Continue to payment", form)
}

// ShippingLabel asks the logistics gateway for the printable label.
func ShippingLabel(orderNo string, form GatewayForm) templ.Component {
	return autoSubmitPage("Shipping label "+orderNo, "Loading the shipping label for "+orderNo+"…", "Open label", form)
}

func pageTitle(title, storeName string) string {
	if strings.TrimSpace(storeName) == "" {
		return title
	}
	return title + " | " + storeName
}

// autoSubmitPage posts form on load. The button covers browsers with
// scripts disabled.
func autoSubmitPage(title, message, button string, form GatewayForm) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString("<!DOCTYPE html>\n<html lang=\"zh-Hant\"><head><meta charset=\"utf-8\">")
		b.WriteString(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		fmt.Fprintf(&b, "<title>%s</title></head><body>", templ.EscapeString(title))
		fmt.Fprintf(&b, "<p>%s</p>", templ.EscapeString(message))
		fmt.Fprintf(&b, `<form id="gateway-form" method="post" action="%s">`, templ.EscapeString(form.ActionURL))

		names := make([]string, 0, len(form.Fields))
		for name := range form.Fields {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			fmt.Fprintf(&b, `<input type="hidden" name="%s" value="%s">`,
				templ.EscapeString(name), templ.EscapeString(form.Fields[name]))
		}

		fmt.Fprintf(&b, `<noscript><button type="submit">%s</button></noscript></form>`, templ.EscapeString(button))
		b.WriteString(`<script>document.getElementById("gateway-form").submit();</script>`)
		b.WriteString("</body></html>")

		_, err := io.WriteString(w, b.String())
		return err
	})
}
