package email

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
)

// fragmentKind tags one accumulated search filter.
type fragmentKind int

const (
	fragDateRange fragmentKind = iota
	fragSubjectAll
	fragSubjectAny
	fragExcludeSubject
	fragSenders
	fragFlag
	fragSizeRange
	fragHeader
	fragText
	fragUIDRange
)

type fragment struct {
	kind    fragmentKind
	start   time.Time
	end     time.Time
	words   []string
	flag    string
	with    bool
	minSize uint32
	maxSize uint32
	field   string
	value   string
	uidFrom uint32
	uidTo   uint32
}

// CriteriaBuilder accumulates independent filter fragments and compiles
// them into a single IMAP search query. An empty builder compiles to
// "match everything". Building is deterministic and has no side
// effects, so the same fragments always produce the same query
// regardless of the order they were added in.
type CriteriaBuilder struct {
	fragments []fragment
}

// NewCriteriaBuilder returns an empty builder.
func NewCriteriaBuilder() *CriteriaBuilder {
	return &CriteriaBuilder{}
}

// Dated restricts matches to the inclusive date range [start, end].
// A zero start or end leaves that side open. The protocol treats the
// upper bound as exclusive, so the inclusive end date is compiled to
// "before the following day".
func (b *CriteriaBuilder) Dated(start, end time.Time) *CriteriaBuilder {
	b.fragments = append(b.fragments, fragment{kind: fragDateRange, start: start, end: end})
	return b
}

// SubjectAll requires every keyword to appear in the subject.
func (b *CriteriaBuilder) SubjectAll(keywords ...string) *CriteriaBuilder {
	if len(keywords) > 0 {
		b.fragments = append(b.fragments, fragment{kind: fragSubjectAll, words: keywords})
	}
	return b
}

// SubjectAny requires at least one keyword to appear in the subject.
func (b *CriteriaBuilder) SubjectAny(keywords ...string) *CriteriaBuilder {
	if len(keywords) > 0 {
		b.fragments = append(b.fragments, fragment{kind: fragSubjectAny, words: keywords})
	}
	return b
}

// ExcludeSubject rejects messages whose subject contains any keyword.
func (b *CriteriaBuilder) ExcludeSubject(keywords ...string) *CriteriaBuilder {
	if len(keywords) > 0 {
		b.fragments = append(b.fragments, fragment{kind: fragExcludeSubject, words: keywords})
	}
	return b
}

// FromAny matches messages sent by any of the given senders.
func (b *CriteriaBuilder) FromAny(senders ...string) *CriteriaBuilder {
	if len(senders) > 0 {
		b.fragments = append(b.fragments, fragment{kind: fragSenders, words: senders})
	}
	return b
}

// Seen filters on the \Seen flag.
func (b *CriteriaBuilder) Seen(seen bool) *CriteriaBuilder {
	return b.withFlag(imap.SeenFlag, seen)
}

// Flagged filters on the \Flagged flag.
func (b *CriteriaBuilder) Flagged(flagged bool) *CriteriaBuilder {
	return b.withFlag(imap.FlaggedFlag, flagged)
}

// Answered filters on the \Answered flag.
func (b *CriteriaBuilder) Answered(answered bool) *CriteriaBuilder {
	return b.withFlag(imap.AnsweredFlag, answered)
}

// Draft filters on the \Draft flag.
func (b *CriteriaBuilder) Draft(draft bool) *CriteriaBuilder {
	return b.withFlag(imap.DraftFlag, draft)
}

// Deleted filters on the \Deleted flag.
func (b *CriteriaBuilder) Deleted(deleted bool) *CriteriaBuilder {
	return b.withFlag(imap.DeletedFlag, deleted)
}

func (b *CriteriaBuilder) withFlag(flag string, with bool) *CriteriaBuilder {
	b.fragments = append(b.fragments, fragment{kind: fragFlag, flag: flag, with: with})
	return b
}

// SizeBetween bounds the message size in bytes. A zero bound leaves
// that side open.
func (b *CriteriaBuilder) SizeBetween(minSize, maxSize uint32) *CriteriaBuilder {
	b.fragments = append(b.fragments, fragment{kind: fragSizeRange, minSize: minSize, maxSize: maxSize})
	return b
}

// Header matches an arbitrary header field.
func (b *CriteriaBuilder) Header(field, value string) *CriteriaBuilder {
	b.fragments = append(b.fragments, fragment{kind: fragHeader, field: field, value: value})
	return b
}

// Text matches free text anywhere in the message.
func (b *CriteriaBuilder) Text(text string) *CriteriaBuilder {
	if text != "" {
		b.fragments = append(b.fragments, fragment{kind: fragText, value: text})
	}
	return b
}

// UIDRange restricts matches to UIDs in [from, to]. A zero "to" means
// everything from "from" onward.
func (b *CriteriaBuilder) UIDRange(from, to uint32) *CriteriaBuilder {
	b.fragments = append(b.fragments, fragment{kind: fragUIDRange, uidFrom: from, uidTo: to})
	return b
}

// Empty reports whether no fragment was added.
func (b *CriteriaBuilder) Empty() bool {
	return len(b.fragments) == 0
}

// Build compiles the accumulated fragments into one search query.
// Simple fragments become a conjunction of criteria fields; keyword
// alternatives and exclusions become OR groups and NOT conjuncts.
func (b *CriteriaBuilder) Build() *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()

	var withFlags, withoutFlags []string

	for _, f := range b.fragments {
		switch f.kind {
		case fragDateRange:
			if !f.start.IsZero() {
				criteria.Since = startOfDay(f.start)
			}
			if !f.end.IsZero() {
				criteria.Before = startOfDay(f.end).AddDate(0, 0, 1)
			}
		case fragSubjectAll:
			for _, kw := range f.words {
				criteria.Header.Add("Subject", kw)
			}
		case fragSubjectAny:
			if len(f.words) == 1 {
				criteria.Header.Add("Subject", f.words[0])
				break
			}
			criteria.Or = append(criteria.Or, orGroup(f.words, func(w string) *imap.SearchCriteria {
				c := imap.NewSearchCriteria()
				c.Header.Add("Subject", w)
				return c
			})...)
		case fragExcludeSubject:
			for _, kw := range f.words {
				not := imap.NewSearchCriteria()
				not.Header.Add("Subject", kw)
				criteria.Not = append(criteria.Not, not)
			}
		case fragSenders:
			if len(f.words) == 1 {
				criteria.Header.Add("From", f.words[0])
				break
			}
			criteria.Or = append(criteria.Or, orGroup(f.words, func(w string) *imap.SearchCriteria {
				c := imap.NewSearchCriteria()
				c.Header.Add("From", w)
				return c
			})...)
		case fragFlag:
			if f.with {
				withFlags = append(withFlags, f.flag)
			} else {
				withoutFlags = append(withoutFlags, f.flag)
			}
		case fragSizeRange:
			if f.minSize > 0 {
				criteria.Larger = f.minSize
			}
			if f.maxSize > 0 {
				criteria.Smaller = f.maxSize
			}
		case fragHeader:
			criteria.Header.Add(f.field, f.value)
		case fragText:
			criteria.Text = append(criteria.Text, f.value)
		case fragUIDRange:
			set := new(imap.SeqSet)
			set.AddRange(f.uidFrom, f.uidTo)
			criteria.Uid = set
		}
	}

	// Flag order does not matter to the server, sorting keeps the
	// compiled query identical however fragments were added.
	sort.Strings(withFlags)
	sort.Strings(withoutFlags)
	criteria.WithFlags = withFlags
	criteria.WithoutFlags = withoutFlags

	return criteria
}

// orGroup folds two or more alternatives into the nested OR pairs the
// protocol expects. The returned rows are conjuncts on the root query.
func orGroup(words []string, build func(string) *imap.SearchCriteria) [][2]*imap.SearchCriteria {
	if len(words) < 2 {
		return nil
	}
	acc := build(words[len(words)-1])
	for i := len(words) - 2; i >= 1; i-- {
		acc = &imap.SearchCriteria{Or: [][2]*imap.SearchCriteria{{build(words[i]), acc}}}
	}
	return [][2]*imap.SearchCriteria{{build(words[0]), acc}}
}

// Describe renders the criteria for logs and diagnostics.
func (b *CriteriaBuilder) Describe() string {
	if len(b.fragments) == 0 {
		return "all messages"
	}

	var parts []string
	for _, f := range b.fragments {
		switch f.kind {
		case fragDateRange:
			switch {
			case !f.start.IsZero() && !f.end.IsZero():
				parts = append(parts, fmt.Sprintf("dated %s..%s", f.start.Format("2006-01-02"), f.end.Format("2006-01-02")))
			case !f.start.IsZero():
				parts = append(parts, fmt.Sprintf("since %s", f.start.Format("2006-01-02")))
			case !f.end.IsZero():
				parts = append(parts, fmt.Sprintf("until %s", f.end.Format("2006-01-02")))
			}
		case fragSubjectAll:
			parts = append(parts, fmt.Sprintf("subject has all of [%s]", strings.Join(f.words, ", ")))
		case fragSubjectAny:
			parts = append(parts, fmt.Sprintf("subject has any of [%s]", strings.Join(f.words, ", ")))
		case fragExcludeSubject:
			parts = append(parts, fmt.Sprintf("subject excludes [%s]", strings.Join(f.words, ", ")))
		case fragSenders:
			parts = append(parts, fmt.Sprintf("from any of [%s]", strings.Join(f.words, ", ")))
		case fragFlag:
			name := strings.TrimPrefix(f.flag, "\\")
			if f.with {
				parts = append(parts, strings.ToLower(name))
			} else {
				parts = append(parts, "not "+strings.ToLower(name))
			}
		case fragSizeRange:
			if f.minSize > 0 {
				parts = append(parts, fmt.Sprintf("larger than %d", f.minSize))
			}
			if f.maxSize > 0 {
				parts = append(parts, fmt.Sprintf("smaller than %d", f.maxSize))
			}
		case fragHeader:
			parts = append(parts, fmt.Sprintf("header %s=%q", f.field, f.value))
		case fragText:
			parts = append(parts, fmt.Sprintf("text %q", f.value))
		case fragUIDRange:
			if f.uidTo == 0 {
				parts = append(parts, fmt.Sprintf("uid %d:*", f.uidFrom))
			} else {
				parts = append(parts, fmt.Sprintf("uid %d:%d", f.uidFrom, f.uidTo))
			}
		}
	}
	return strings.Join(parts, ", ")
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
