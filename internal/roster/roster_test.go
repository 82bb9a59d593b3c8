package roster

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestParse(t *testing.T) {
	in := "name,email,institution,ref\n" +
		"Null Pointers, Captain@Example.edu ,State University,17\n" +
		"Off By One,obo@example.edu,Tech Institute,\n"

	teams, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, teams, 2)
	assert.Equal(t, Team{
		Row:         2,
		Name:        "Null Pointers",
		Key:         "null pointers",
		Email:       "captain@example.edu",
		Institution: "State University",
		Ref:         "17",
	}, teams[0])
	assert.Equal(t, "", teams[1].Ref)
}

func TestParseReportsEveryRow(t *testing.T) {
	cases := []struct {
		name string
		rows string
		want []string
	}{
		{
			name: "short name",
			rows: "A,a@example.edu,State University\n",
			want: []string{"row 2, name: must be 2 to 100 characters"},
		},
		{
			name: "bad characters",
			rows: "Team #1,a@example.edu,State University\n",
			want: []string{"row 2, name: only letters, digits, spaces and -_.() are allowed"},
		},
		{
			name: "bad email and missing institution",
			rows: "Team One,not-an-email,\n",
			want: []string{"row 2, email: invalid format", "row 2, institution: required"},
		},
		{
			name: "duplicate name ignoring case",
			rows: "Team One,a@example.edu,State University\nTEAM ONE,b@example.edu,State University\n",
			want: []string{"row 3, name: duplicate of row 2"},
		},
		{
			name: "duplicate email",
			rows: "Team One,a@example.edu,State University\nTeam Two,A@example.edu,State University\n",
			want: []string{"row 3, email: duplicate of row 2"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			teams, err := Parse(strings.NewReader("name,email,institution\n" + tc.rows))
			require.Error(t, err)
			assert.Nil(t, teams)

			var got []string
			for _, e := range multierr.Errors(err) {
				var re *RowError
				require.True(t, errors.As(e, &re), "%v", e)
				got = append(got, re.Error())
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseHeader(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"missing column", "name,email\nTeam One,a@example.edu\n"},
		{"unknown column", "name,email,institution,coach\n"},
		{"no rows", "name,email,institution\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.in))
			assert.Error(t, err)
		})
	}
}

func TestKeyFoldsUnicodeForms(t *testing.T) {
	assert.Equal(t, Key("Café Coders"), Key("CAFÉ CODERS"))
	assert.Equal(t, Key("Caf\u00e9"), Key("Cafe\u0301"))
}

func TestCheck(t *testing.T) {
	teams := make([]Team, 48)
	for i := range teams {
		teams[i] = Team{Name: fmt.Sprintf("Team %d", i)}
	}
	assert.NoError(t, Check(teams, 48))
	assert.ErrorIs(t, Check(teams[:47], 48), ErrWrongCount)
}
