package email

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

var magicLinkTmpl = template.Must(template.New("magic_link").Parse(
	`<p>Hi {{.Name}},</p>
<p>Use the link below to continue your entry:</p>
<p><a href="{{.Link}}">Continue to your entry</a></p>
<p>This link can be used once and expires in {{.ExpiresIn}}.</p>
<p>If you did not request this email you can ignore it.</p>`))

var witnessTmpl = template.Must(template.New("witness").Parse(
	`<p>Hi {{.WitnessName}},</p>
<p>{{.PlayerName}} named you as a witness to their shot. Please confirm you saw it:</p>
<p><a href="{{.Link}}">Confirm what I witnessed</a></p>
<p>This link expires in {{.ExpiresIn}}.</p>`))

// MagicLinkBody renders the body of a sign-in email.
func MagicLinkBody(name, link string, ttl time.Duration) (string, error) {
	var buf bytes.Buffer
	err := magicLinkTmpl.Execute(&buf, map[string]any{
		"Name":      name,
		"Link":      template.URL(link),
		"ExpiresIn": HumanDuration(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("render magic link email: %w", err)
	}
	return buf.String(), nil
}

// WitnessBody renders the body of a witness confirmation request.
func WitnessBody(witnessName, playerName, link string, ttl time.Duration) (string, error) {
	if witnessName == "" {
		witnessName = "there"
	}
	var buf bytes.Buffer
	err := witnessTmpl.Execute(&buf, map[string]any{
		"WitnessName": witnessName,
		"PlayerName":  playerName,
		"Link":        template.URL(link),
		"ExpiresIn":   HumanDuration(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("render witness email: %w", err)
	}
	return buf.String(), nil
}

// HumanDuration formats whole hours or minutes, e.g. "15 minutes", "48 hours".
func HumanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute:
		return plural(int(d/time.Minute), "minute")
	default:
		return plural(int(d/time.Second), "second")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
