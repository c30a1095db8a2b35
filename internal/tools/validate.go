package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Validate checks args against the spec and returns the upstream query
// parameters. Null values of nullable params are dropped. The error text
// names the offending upstream fields so failures can be classified.
func (s *Spec) Validate(args map[string]interface{}) (map[string]string, error) {
	query := make(map[string]string, len(args))
	present := make(map[string]bool, len(args))

	for name := range args {
		if _, ok := s.byName[name]; !ok {
			return nil, fmt.Errorf("%s: unknown parameter %q", s.Name, name)
		}
	}

	for i := range s.Params {
		p := &s.Params[i]
		raw, ok := args[p.Name]
		if !ok || raw == nil {
			if p.Required {
				return nil, p.fail(fmt.Sprintf("%s 필수", p.Query))
			}
			continue
		}

		value, err := p.convert(raw)
		if err != nil {
			return nil, p.fail(err.Error())
		}
		if err := p.check(value); err != nil {
			return nil, p.fail(err.Error())
		}
		query[p.Query] = value
		present[p.Name] = true
	}

	for _, rule := range s.Requires {
		if !present[rule.If] {
			continue
		}
		for _, need := range rule.Needs {
			if !present[need] {
				return nil, errors.New(rule.Message)
			}
		}
	}
	return query, nil
}

func (p *Param) fail(fallback string) error {
	if p.Message != "" {
		return errors.New(p.Message)
	}
	return errors.New(fallback)
}

// convert renders a JSON-decoded value as query text of the param's type.
func (p *Param) convert(raw interface{}) (string, error) {
	switch p.Type {
	case "integer":
		n, ok := toFloat(raw)
		if !ok || n != math.Trunc(n) {
			return "", fmt.Errorf("%s 정수 필요", p.Query)
		}
		return strconv.FormatInt(int64(n), 10), nil
	case "number":
		n, ok := toFloat(raw)
		if !ok {
			return "", fmt.Errorf("%s 숫자 필요", p.Query)
		}
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	default:
		s, ok := raw.(string)
		if !ok {
			return "", fmt.Errorf("%s 문자열 필요", p.Query)
		}
		s = strings.TrimSpace(s)
		if s == "" && p.Required {
			return "", fmt.Errorf("%s 필수", p.Query)
		}
		return s, nil
	}
}

func (p *Param) check(value string) error {
	if len(p.Enum) > 0 {
		allowed := make([]string, len(p.Enum))
		match := false
		for i, e := range p.Enum {
			allowed[i] = fmt.Sprint(e)
			if allowed[i] == value {
				match = true
			}
		}
		if !match {
			return fmt.Errorf("%s 값은 %s 중 하나", p.Query, strings.Join(allowed, ", "))
		}
	}
	if p.re != nil && !p.re.MatchString(value) {
		return fmt.Errorf("%s 형식 오류", p.Query)
	}
	if p.Minimum != nil || p.Maximum != nil {
		n, _ := strconv.ParseFloat(value, 64)
		if (p.Minimum != nil && n < *p.Minimum) || (p.Maximum != nil && n > *p.Maximum) {
			return fmt.Errorf("%s %s~%s 범위 필요", p.Query, bound(p.Minimum), bound(p.Maximum))
		}
	}
	return nil
}

func bound(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
