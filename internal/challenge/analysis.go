package challenge

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Rorqualx/cloudscraper-go/internal/types"
)

// interactiveFormToken marks the v1 interactive challenge form action.
const interactiveFormToken = "__cf_chl_f_tk="

// submitDelayRE matches the setTimeout delay wrapping the auto-submit call
// on interactive challenge pages.
var submitDelayRE = regexp.MustCompile(`(?i)submit\(\);\r?\n\s*},\s*([0-9]+)`)

// HiddenField is a single name/value pair scraped from a challenge form.
type HiddenField struct {
	Name  string
	Value string
}

// Blueprint captures the form action and hidden fields scraped from an
// interactive challenge page, ready to be combined with a computed answer.
type Blueprint struct {
	Action       string
	HiddenFields []HiddenField
}

// ToSubmission merges the computed payload with the scraped hidden fields
// and resolves the form action against base. Hidden fields win when a
// payload key collides with a scraped field.
func (b *Blueprint) ToSubmission(base *url.URL, payload []HiddenField) (*Submission, error) {
	target, err := base.Parse(b.Action)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidFormAction, err)
	}

	form := url.Values{}
	for _, f := range payload {
		form.Set(f.Name, f.Value)
	}
	for _, f := range b.HiddenFields {
		form.Set(f.Name, f.Value)
	}

	sub := NewSubmission(http.MethodPost, target)
	sub.Form = form
	return sub, nil
}

// ParseChallengeForm extracts the action and hidden fields of the v1
// interactive challenge form. The form must carry the __cf_chl_f_tk action
// token and the r, jschl_vc, and pass hidden inputs.
func ParseChallengeForm(resp *Response) (*Blueprint, error) {
	if !IsCloudflare(resp) {
		return nil, types.ErrNotCloudflare
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrChallengeFormNotFound, err)
	}

	form := doc.Find("form#challenge-form").FilterFunction(func(_ int, s *goquery.Selection) bool {
		action, ok := s.Attr("action")
		return ok && strings.Contains(action, interactiveFormToken)
	}).First()
	if form.Length() == 0 {
		return nil, types.ErrChallengeFormNotFound
	}

	action, _ := form.Attr("action")
	blueprint := &Blueprint{Action: action}

	found := make(map[string]bool, 3)
	form.Find("input").Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok {
			return
		}
		switch name {
		case "r", "jschl_vc", "pass":
			blueprint.HiddenFields = append(blueprint.HiddenFields, HiddenField{Name: name, Value: s.AttrOr("value", "")})
			found[name] = true
		}
	})

	for _, required := range []string{"r", "jschl_vc", "pass"} {
		if !found[required] {
			return nil, types.NewMissingFieldError(required)
		}
	}
	return blueprint, nil
}

// FormInputs lists every named <input> in the document in source order.
// Values default to "" when the attribute is absent.
func FormInputs(body string) []HiddenField {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil
	}

	var fields []HiddenField
	doc.Find("input[name]").Each(func(_ int, s *goquery.Selection) {
		fields = append(fields, HiddenField{
			Name:  s.AttrOr("name", ""),
			Value: s.AttrOr("value", ""),
		})
	})
	return fields
}

// SubmitDelay extracts how long the interactive page waits before
// auto-submitting its form.
func SubmitDelay(body string) (time.Duration, error) {
	m := submitDelayRE.FindStringSubmatch(body)
	if m == nil {
		return 0, types.ErrDelayNotFound
	}
	ms, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, types.ErrDelayNotFound
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// ExtractJSONObject returns the first balanced JSON object following marker
// in body. ok is false when the marker, or an opening brace after it, is
// absent. An object that opens but never closes is an error.
func ExtractJSONObject(body, marker string) (raw string, ok bool, err error) {
	start := strings.Index(body, marker)
	if start < 0 {
		return "", false, nil
	}
	offset := strings.IndexByte(body[start:], '{')
	if offset < 0 {
		return "", false, nil
	}
	braceStart := start + offset

	depth := 0
	inString := false
	escape := false
	for i := braceStart; i < len(body); i++ {
		ch := body[i]
		if inString {
			if escape {
				escape = false
				continue
			}
			switch ch {
			case '\\':
				escape = true
			case '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return body[braceStart : i+1], true, nil
			}
		case '"':
			inString = true
		}
	}
	return "", false, fmt.Errorf("%q: %w", marker, types.ErrUnterminatedJSON)
}
