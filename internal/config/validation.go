package config

import "slices"

// IsAdmin reports whether userID is in the operator allow-list.
// An empty allow-list authorizes nobody.
func (c *Config) IsAdmin(userID int64) bool {
	return userID != 0 && slices.Contains(c.Telegram.AdminIDs, userID)
}

// LinkButton is one external link rendered under the onboarding message.
type LinkButton struct {
	Text string
	URL  string
}

// OnboardingLinks pairs configured link URLs with their labels, in display
// order, skipping links without a URL.
func (c *Config) OnboardingLinks() []LinkButton {
	l, m := c.Onboarding.Links, c.Messages
	all := []LinkButton{
		{Text: m.LinkChannel1, URL: l.Channel1},
		{Text: m.LinkChannel2, URL: l.Channel2},
		{Text: m.LinkChannel3, URL: l.Channel3},
		{Text: m.LinkChannel4, URL: l.Channel4},
		{Text: m.LinkBot, URL: l.Bot},
		{Text: m.LinkChannel5, URL: l.Channel5},
	}
	links := all[:0]
	for _, link := range all {
		if link.URL == "" {
			continue
		}
		if link.Text == "" {
			link.Text = link.URL
		}
		links = append(links, link)
	}
	return links
}
