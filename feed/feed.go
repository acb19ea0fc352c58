// Package feed parses RSS 2.0, RSS 1.0 (RDF) and Atom 1.0 feeds with
// encoding/xml, auto-detecting the format from the root element.
package feed

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Entry is one item of a feed. GUID falls back to the link so every entry
// carries a stable dedup key.
type Entry struct {
	GUID      string
	Title     string
	Link      string
	Summary   string
	Content   string
	Published time.Time
	Author    string
}

// Feed is a parsed RSS or Atom feed.
type Feed struct {
	Title   string
	Link    string
	Entries []Entry
}

// Parse auto-detects and parses RSS 2.0, RSS 1.0 (RDF) or Atom 1.0 XML.
func Parse(data []byte) (*Feed, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("feed: empty data")
	}
	switch rootElement(trimmed) {
	case "rss", "rdf":
		return parseRSS(trimmed)
	case "feed":
		return parseAtom(trimmed)
	default:
		return nil, fmt.Errorf("feed: unknown format (expected <rss> or <feed>)")
	}
}

// rootElement returns the local name of the first start element.
func rootElement(data []byte) string {
	d := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := d.Token()
		if err != nil {
			return ""
		}
		if se, ok := tok.(xml.StartElement); ok {
			return strings.ToLower(se.Name.Local)
		}
	}
}

// parseWhen parses a feed timestamp leniently; feeds in the wild mix
// RFC 1123, RFC 3339 and looser forms. Zero time on failure.
func parseWhen(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}
	}
	return t
}

type rssItem struct {
	GUID        string `xml:"guid"`
	About       string `xml:"about,attr"` // rdf:about
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	Content     string `xml:"encoded"` // content:encoded
	PubDate     string `xml:"pubDate"`
	Date        string `xml:"date"` // dc:date (RSS 1.0)
	Author      string `xml:"author"`
	Creator     string `xml:"creator"` // dc:creator
}

type rssRoot struct {
	Channel struct {
		Title string    `xml:"title"`
		Link  string    `xml:"link"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
	// RSS 1.0 (RDF) feeds carry items as siblings of <channel>.
	Items []rssItem `xml:"item"`
}

func parseRSS(data []byte) (*Feed, error) {
	var root rssRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("feed: parse rss: %w", err)
	}

	ch := root.Channel
	items := append(ch.Items, root.Items...)
	f := &Feed{
		Title:   strings.TrimSpace(ch.Title),
		Link:    strings.TrimSpace(ch.Link),
		Entries: make([]Entry, 0, len(items)),
	}
	for _, item := range items {
		author := strings.TrimSpace(item.Author)
		if author == "" {
			author = strings.TrimSpace(item.Creator)
		}
		guid := strings.TrimSpace(item.GUID)
		link := strings.TrimSpace(item.Link)
		if guid == "" {
			guid = strings.TrimSpace(item.About)
		}
		if guid == "" {
			guid = link
		}
		published := item.PubDate
		if strings.TrimSpace(published) == "" {
			published = item.Date
		}
		f.Entries = append(f.Entries, Entry{
			GUID:      guid,
			Title:     strings.TrimSpace(item.Title),
			Link:      link,
			Summary:   strings.TrimSpace(item.Description),
			Content:   strings.TrimSpace(item.Content),
			Published: parseWhen(published),
			Author:    author,
		})
	}
	return f, nil
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

type atomRoot struct {
	Title   string     `xml:"title"`
	Links   []atomLink `xml:"link"`
	Entries []struct {
		ID      string     `xml:"id"`
		Title   string     `xml:"title"`
		Links   []atomLink `xml:"link"`
		Summary string     `xml:"summary"`
		Content struct {
			Body string `xml:",chardata"`
		} `xml:"content"`
		Published string `xml:"published"`
		Updated   string `xml:"updated"`
		Authors   []struct {
			Name string `xml:"name"`
		} `xml:"author"`
	} `xml:"entry"`
}

func parseAtom(data []byte) (*Feed, error) {
	var root atomRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("feed: parse atom: %w", err)
	}

	f := &Feed{
		Title:   strings.TrimSpace(root.Title),
		Link:    alternateLink(root.Links),
		Entries: make([]Entry, 0, len(root.Entries)),
	}
	for _, entry := range root.Entries {
		link := alternateLink(entry.Links)
		guid := strings.TrimSpace(entry.ID)
		if guid == "" {
			guid = link
		}
		published := entry.Published
		if strings.TrimSpace(published) == "" {
			published = entry.Updated
		}
		var author string
		if len(entry.Authors) > 0 {
			author = strings.TrimSpace(entry.Authors[0].Name)
		}
		f.Entries = append(f.Entries, Entry{
			GUID:      guid,
			Title:     strings.TrimSpace(entry.Title),
			Link:      link,
			Summary:   strings.TrimSpace(entry.Summary),
			Content:   strings.TrimSpace(entry.Content.Body),
			Published: parseWhen(published),
			Author:    author,
		})
	}
	return f, nil
}

// alternateLink prefers rel="alternate", then the first href.
func alternateLink(links []atomLink) string {
	for _, l := range links {
		if l.Rel == "alternate" || l.Rel == "" {
			return strings.TrimSpace(l.Href)
		}
	}
	if len(links) > 0 {
		return strings.TrimSpace(links[0].Href)
	}
	return ""
}
