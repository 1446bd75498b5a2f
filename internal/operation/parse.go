package operation

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidationError reports a malformed request parameter.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Params is the read side of a parameter bag. url.Values satisfies it.
type Params interface {
	Get(key string) string
}

// MapParams adapts a plain map.
type MapParams map[string]string

func (m MapParams) Get(key string) string { return m[key] }

// Parse resolves an operation name and its raw parameters into a typed
// Operation.
func Parse(name string, p Params) (Operation, error) {
	if p == nil {
		p = MapParams{}
	}

	switch Name(strings.TrimSpace(name)) {
	case NameMerge:
		return Merge{}, nil

	case NameRotate:
		raw := p.Get("angle")
		if strings.TrimSpace(raw) == "" {
			return nil, &ValidationError{Field: "angle", Reason: "is required"}
		}
		angle, err := ParseAngle(raw)
		if err != nil {
			return nil, &ValidationError{Field: "angle", Reason: err.Error()}
		}
		pages, err := optionalPages(p)
		if err != nil {
			return nil, err
		}
		return Rotate{Angle: angle, Pages: pages}, nil

	case NameDeletePages:
		pages, err := requiredPages(p)
		if err != nil {
			return nil, err
		}
		return DeletePages{Pages: pages}, nil

	case NameExtractPages:
		pages, err := requiredPages(p)
		if err != nil {
			return nil, err
		}
		return ExtractPages{Pages: pages}, nil

	case NameEncrypt:
		user := p.Get("user_password")
		if user == "" {
			return nil, &ValidationError{Field: "user_password", Reason: "is required"}
		}
		return Encrypt{UserPassword: user, OwnerPassword: p.Get("owner_password")}, nil

	case NameDecrypt:
		password := p.Get("password")
		if password == "" {
			return nil, &ValidationError{Field: "password", Reason: "is required"}
		}
		return Decrypt{Password: password}, nil

	case NameOverlay:
		page, err := optionalInt(p, "overlay_page_number", 1)
		if err != nil {
			return nil, err
		}
		if page < 1 {
			return nil, &ValidationError{Field: "overlay_page_number", Reason: "must be at least 1"}
		}
		pages, err := optionalPages(p)
		if err != nil {
			return nil, err
		}
		return Overlay{OverlayPage: page, Pages: pages}, nil

	case NameExtractText:
		pages, err := optionalPages(p)
		if err != nil {
			return nil, err
		}
		return ExtractText{Pages: pages}, nil

	case NameReversePages:
		return ReversePages{}, nil

	case NameDuplicatePages:
		pages, err := requiredPages(p)
		if err != nil {
			return nil, err
		}
		count, err := optionalInt(p, "duplicate_count", 1)
		if err != nil {
			return nil, err
		}
		if count < 0 || count > MaxDuplicateCount {
			return nil, &ValidationError{Field: "duplicate_count", Reason: fmt.Sprintf("must be between 0 and %d", MaxDuplicateCount)}
		}
		return DuplicatePages{Pages: pages, Count: count}, nil

	default:
		return nil, &ValidationError{Field: "operation", Reason: fmt.Sprintf("unknown operation %q", name)}
	}
}

func requiredPages(p Params) (PageSet, error) {
	if strings.TrimSpace(p.Get("pages")) == "" {
		return PageSet{}, &ValidationError{Field: "pages", Reason: "is required"}
	}
	return optionalPages(p)
}

func optionalPages(p Params) (PageSet, error) {
	raw := p.Get("pages")
	if strings.TrimSpace(raw) == "" {
		return PageSet{}, nil
	}
	pages, err := ParsePageSet(raw)
	if err != nil {
		return PageSet{}, &ValidationError{Field: "pages", Reason: err.Error()}
	}
	return pages, nil
}

func optionalInt(p Params, key string, def int) (int, error) {
	raw := strings.TrimSpace(p.Get(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ValidationError{Field: key, Reason: "must be an integer"}
	}
	return n, nil
}
