// Package roster reads and validates the team registration CSV.
package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/badoux/checkmail"
	"go.uber.org/multierr"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var ErrWrongCount = errors.New("wrong number of teams")

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9\s\-_.()]+$`)

var (
	required = []string{"name", "email", "institution"}
	optional = []string{"ref"}
)

type Team struct {
	Row         int
	Name        string
	Key         string // folded name, equal for names that differ only in case or Unicode form
	Email       string
	Institution string
	Ref         string // judging system team id, may be empty
}

// RowError is one problem in one CSV row. Row counts the header as row 1.
type RowError struct {
	Row    int
	Field  string
	Reason string
}

func (e *RowError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
	}
	return fmt.Sprintf("row %d, %s: %s", e.Row, e.Field, e.Reason)
}

var folder = cases.Fold()

// Key normalizes a team name for duplicate detection.
func Key(name string) string {
	return folder.String(norm.NFC.String(strings.TrimSpace(name)))
}

func Load(path string) ([]Team, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open roster: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a roster with the header name,email,institution and an
// optional ref column. Every invalid row is reported; no teams are returned
// unless all rows are valid.
func Parse(r io.Reader) ([]Team, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("roster is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read roster header: %w", err)
	}
	cols, err := columns(header)
	if err != nil {
		return nil, err
	}

	var (
		teams  []Team
		errs   error
		names  = map[string]int{}
		emails = map[string]int{}
	)
	for row := 2; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read roster: %w", err)
		}
		field := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		t := Team{
			Row:         row,
			Name:        field("name"),
			Email:       strings.ToLower(field("email")),
			Institution: field("institution"),
			Ref:         field("ref"),
		}
		t.Key = Key(t.Name)

		rowErrs := validate(t)
		if first, dup := names[t.Key]; dup && t.Name != "" {
			rowErrs = multierr.Append(rowErrs, &RowError{Row: row, Field: "name", Reason: fmt.Sprintf("duplicate of row %d", first)})
		} else {
			names[t.Key] = row
		}
		if first, dup := emails[t.Email]; dup && t.Email != "" {
			rowErrs = multierr.Append(rowErrs, &RowError{Row: row, Field: "email", Reason: fmt.Sprintf("duplicate of row %d", first)})
		} else {
			emails[t.Email] = row
		}

		if rowErrs != nil {
			errs = multierr.Append(errs, rowErrs)
			continue
		}
		teams = append(teams, t)
	}

	if errs != nil {
		return nil, errs
	}
	if len(teams) == 0 {
		return nil, errors.New("roster has no teams")
	}
	return teams, nil
}

func columns(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if !slices.Contains(required, h) && !slices.Contains(optional, h) {
			return nil, fmt.Errorf("roster header: unexpected column %q", h)
		}
		cols[h] = i
	}
	for _, h := range required {
		if _, ok := cols[h]; !ok {
			return nil, fmt.Errorf("roster header: missing column %q", h)
		}
	}
	return cols, nil
}

func validate(t Team) error {
	var errs error
	add := func(field, reason string) {
		errs = multierr.Append(errs, &RowError{Row: t.Row, Field: field, Reason: reason})
	}

	switch n := utf8.RuneCountInString(t.Name); {
	case n == 0:
		add("name", "required")
	case n < 2 || n > 100:
		add("name", "must be 2 to 100 characters")
	case !namePattern.MatchString(t.Name):
		add("name", "only letters, digits, spaces and -_.() are allowed")
	}

	switch {
	case t.Email == "":
		add("email", "required")
	case len(t.Email) > 254:
		add("email", "longer than 254 characters")
	default:
		if err := checkmail.ValidateFormat(t.Email); err != nil {
			add("email", "invalid format")
		}
	}

	switch n := utf8.RuneCountInString(t.Institution); {
	case n == 0:
		add("institution", "required")
	case n < 2 || n > 200:
		add("institution", "must be 2 to 200 characters")
	}
	return errs
}

// Check requires exactly want teams.
func Check(teams []Team, want int) error {
	if len(teams) != want {
		return fmt.Errorf("%w: roster has %d, the bracket needs %d", ErrWrongCount, len(teams), want)
	}
	return nil
}
