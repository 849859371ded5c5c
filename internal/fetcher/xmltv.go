package fetcher

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
)

// PreferredLang is the language picked when an element repeats per language.
// Elements without a lang attribute count as this language.
const PreferredLang = "en"

type xmlText struct {
	Lang  string `xml:"lang,attr"`
	Value string `xml:",chardata"`
}

type xmlIcon struct {
	Src string `xml:"src,attr"`
}

type xmlChannel struct {
	ID           string    `xml:"id,attr"`
	DisplayNames []xmlText `xml:"display-name"`
	Icons        []xmlIcon `xml:"icon"`
}

type xmlRating struct {
	Value string `xml:"value"`
}

type xmlCredits struct {
	Actors     []string `xml:"actor"`
	Directors  []string `xml:"director"`
	Presenters []string `xml:"presenter"`
	Writers    []string `xml:"writer"`
	Producers  []string `xml:"producer"`
}

type xmlProgramme struct {
	Channel     string      `xml:"channel,attr"`
	Start       string      `xml:"start,attr"`
	Stop        string      `xml:"stop,attr"`
	Titles      []xmlText   `xml:"title"`
	SubTitles   []xmlText   `xml:"sub-title"`
	Descs       []xmlText   `xml:"desc"`
	Categories  []xmlText   `xml:"category"`
	EpisodeNums []xmlText   `xml:"episode-num"`
	Ratings     []xmlRating `xml:"rating"`
	Credits     *xmlCredits `xml:"credits"`
	Icons       []xmlIcon   `xml:"icon"`
	Date        string      `xml:"date"`
	Countries   []xmlText   `xml:"country"`
}

// DecodeChannels streams the <channel> elements of an XMLTV document.
// Elements without an id are yielded as *RecordError. A syntax error ends the
// sequence with that error.
func DecodeChannels(r io.Reader) iter.Seq2[ChannelRecord, error] {
	return func(yield func(ChannelRecord, error) bool) {
		idx := 0
		for el, err := range elements[xmlChannel](r, "channel") {
			if err != nil {
				yield(ChannelRecord{}, err)
				return
			}
			rec, err := el.record(idx)
			idx++
			if !yield(rec, err) {
				return
			}
		}
	}
}

// DecodePrograms streams the <programme> elements of an XMLTV document.
// Elements missing channel, start, stop or title, or carrying an unparseable
// time, are yielded as *RecordError.
func DecodePrograms(r io.Reader) iter.Seq2[ProgramRecord, error] {
	return func(yield func(ProgramRecord, error) bool) {
		idx := 0
		for el, err := range elements[xmlProgramme](r, "programme") {
			if err != nil {
				yield(ProgramRecord{}, err)
				return
			}
			rec, err := el.record(idx)
			idx++
			if !yield(rec, err) {
				return
			}
		}
	}
}

// DecodeChannelsFile opens path and streams its channels.
func DecodeChannelsFile(path string) iter.Seq2[ChannelRecord, error] {
	return fromFile(path, DecodeChannels)
}

// DecodeProgramsFile opens path and streams its programmes.
func DecodeProgramsFile(path string) iter.Seq2[ProgramRecord, error] {
	return fromFile(path, DecodePrograms)
}

func fromFile[T any](path string, decode func(io.Reader) iter.Seq2[T, error]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			var zero T
			yield(zero, fmt.Errorf("open feed: %w", err))
			return
		}
		defer f.Close()
		for rec, err := range decode(f) {
			if !yield(rec, err) {
				return
			}
		}
	}
}

// elements decodes every top-level occurrence of local into T.
func elements[T any](r io.Reader, local string) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		dec := xml.NewDecoder(r)
		dec.Strict = false
		dec.CharsetReader = charset.NewReaderLabel
		for {
			tok, err := dec.Token()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				yield(nil, fmt.Errorf("xmltv: %w", err))
				return
			}
			se, ok := tok.(xml.StartElement)
			if !ok || se.Name.Local != local {
				continue
			}
			var node T
			if err := dec.DecodeElement(&node, &se); err != nil {
				yield(nil, fmt.Errorf("xmltv %s: %w", local, err))
				return
			}
			if !yield(&node, nil) {
				return
			}
		}
	}
}

func (c *xmlChannel) record(idx int) (ChannelRecord, error) {
	token := strings.TrimSpace(c.ID)
	if token == "" {
		return ChannelRecord{}, &RecordError{Element: "channel", Index: idx, Reason: "missing id"}
	}
	rec := ChannelRecord{Token: token, DisplayName: token, IconURL: firstIcon(c.Icons)}
	if name := pickText(c.DisplayNames); name != nil {
		rec.DisplayName = *name
	}
	return rec, nil
}

func (p *xmlProgramme) record(idx int) (ProgramRecord, error) {
	token := strings.TrimSpace(p.Channel)
	fail := func(reason string) (ProgramRecord, error) {
		return ProgramRecord{}, &RecordError{Element: "programme", Index: idx, Token: token, Reason: reason}
	}
	if token == "" {
		return fail("missing channel")
	}
	if strings.TrimSpace(p.Start) == "" {
		return fail("missing start")
	}
	if strings.TrimSpace(p.Stop) == "" {
		return fail("missing stop")
	}
	start, err := ParseTime(p.Start)
	if err != nil {
		return fail(err.Error())
	}
	end, err := ParseTime(p.Stop)
	if err != nil {
		return fail(err.Error())
	}
	title := pickText(p.Titles)
	if title == nil {
		return fail("missing title")
	}

	rec := ProgramRecord{
		ChannelToken:   token,
		Start:          start,
		End:            end,
		Title:          *title,
		Subtitle:       pickText(p.SubTitles),
		Description:    pickText(p.Descs),
		Category:       firstText(p.Categories),
		EpisodeNum:     firstText(p.EpisodeNums),
		IconURL:        firstIcon(p.Icons),
		ProductionYear: trimmed(p.Date),
		Country:        firstText(p.Countries),
		Actors:         []string{},
		Directors:      []string{},
		Presenters:     []string{},
		Writers:        []string{},
		Producers:      []string{},
	}
	if len(p.Ratings) > 0 {
		rec.Rating = trimmed(p.Ratings[0].Value)
	}
	if c := p.Credits; c != nil {
		rec.Actors = names(c.Actors)
		rec.Directors = names(c.Directors)
		rec.Presenters = names(c.Presenters)
		rec.Writers = names(c.Writers)
		rec.Producers = names(c.Producers)
	}
	return rec, nil
}

// ParseTime parses an XMLTV timestamp ("20250101120000 +0100") into UTC.
// Seconds may be omitted; a missing offset means UTC.
func ParseTime(s string) (time.Time, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return time.Time{}, fmt.Errorf("empty time")
	}
	stamp := fields[0]
	offset := ""
	if len(fields) > 1 {
		offset = fields[1]
	} else if i := strings.IndexAny(stamp, "+-"); i > 0 {
		stamp, offset = stamp[:i], stamp[i:]
	}
	var layout string
	switch {
	case len(stamp) >= 14:
		stamp, layout = stamp[:14], "20060102150405"
	case len(stamp) == 12:
		layout = "200601021504"
	default:
		return time.Time{}, fmt.Errorf("bad time %q", s)
	}
	if offset != "" {
		stamp += " " + offset
		layout += " -0700"
	}
	t, err := time.Parse(layout, stamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q", s)
	}
	return t.UTC(), nil
}

// pickText returns the first non-empty text in PreferredLang, else the first non-empty text.
func pickText(texts []xmlText) *string {
	for _, t := range texts {
		if t.Lang == "" || t.Lang == PreferredLang {
			if v := trimmed(t.Value); v != nil {
				return v
			}
		}
	}
	return firstText(texts)
}

func firstText(texts []xmlText) *string {
	for _, t := range texts {
		if v := trimmed(t.Value); v != nil {
			return v
		}
	}
	return nil
}

func firstIcon(icons []xmlIcon) *string {
	for _, i := range icons {
		if v := trimmed(i.Src); v != nil {
			return v
		}
	}
	return nil
}

func names(in []string) []string {
	out := make([]string, 0, len(in))
	for _, n := range in {
		if v := trimmed(n); v != nil {
			out = append(out, *v)
		}
	}
	return out
}

func trimmed(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// LooksLikeXMLTV reports whether the head of a document is an XMLTV document.
func LooksLikeXMLTV(head []byte) bool {
	s := string(head)
	return strings.Contains(s, "<?xml") && (strings.Contains(s, "<tv") || strings.Contains(s, "<!DOCTYPE tv"))
}
