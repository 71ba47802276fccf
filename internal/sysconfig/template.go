// Package sysconfig implements --generate-system-config: rendering the
// hostapd.conf and USB gadget string templates into their runtime
// locations, grounded on original_source/src/main.rs's
// generate_hostapd_conf/generate_usb_strings/render_template trio.
package sysconfig

import "strings"

// renderTemplate substitutes {{KEY}} placeholders for their values. This is
// literal brace-variable substitution, not Go's text/template dot-syntax —
// the original's render_template does nothing more than a sequence of
// string replaces, and the generated files are consumed by hostapd/the USB
// gadget configfs layer, not by Go code, so there's no reason to pull in a
// templating engine for it.
func renderTemplate(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
