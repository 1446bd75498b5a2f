package operation

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePageSet(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "all", want: "all"},
		{in: " ALL ", want: "all"},
		{in: "1,3-5,7-", want: "1,3-5,7-"},
		{in: " 1 , 2 - 4 ", want: "1,2-4"},
		{in: "5-5", want: "5"},
		{in: "", wantErr: true},
		{in: "0", wantErr: true},
		{in: "4-2", wantErr: true},
		{in: "1,,2", wantErr: true},
		{in: "a-3", wantErr: true},
		{in: "-3", wantErr: true},
		{in: "1-2-3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePageSet(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestPageSetRangesPreserveOrder(t *testing.T) {
	ps, err := ParsePageSet("9,2-3,5-")
	require.NoError(t, err)

	assert.Equal(t, []PageRange{{From: 9, To: 9}, {From: 2, To: 3}, {From: 5}}, ps.Ranges())
	assert.True(t, ps.Ranges()[2].OpenEnded())
	assert.False(t, ps.IsAll())
	assert.False(t, ps.IsZero())
	assert.True(t, PageSet{}.IsZero())
}

func TestParseAngleNormalizes(t *testing.T) {
	cases := map[string]Angle{
		"0":    Angle0,
		"90":   Angle90,
		"-90":  Angle270,
		"180":  Angle180,
		"-180": Angle180,
		"270":  Angle270,
		"-270": Angle90,
	}
	for in, want := range cases {
		got, err := ParseAngle(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"45", "360", "-360", "x"} {
		_, err := ParseAngle(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseOperations(t *testing.T) {
	tests := []struct {
		name   string
		params url.Values
		want   Operation
	}{
		{name: "merge", want: Merge{}},
		{name: "rotate", params: url.Values{"angle": {"-90"}}, want: Rotate{Angle: Angle270}},
		{name: "delete_pages", params: url.Values{"pages": {"2"}}, want: DeletePages{Pages: Pages(PageRange{From: 2, To: 2})}},
		{name: "extract_pages", params: url.Values{"pages": {"1-"}}, want: ExtractPages{Pages: Pages(PageRange{From: 1})}},
		{name: "encrypt", params: url.Values{"user_password": {"u"}, "owner_password": {"o"}}, want: Encrypt{UserPassword: "u", OwnerPassword: "o"}},
		{name: "decrypt", params: url.Values{"password": {"p"}}, want: Decrypt{Password: "p"}},
		{name: "overlay", want: Overlay{OverlayPage: 1}},
		{name: "extract_text", params: url.Values{"pages": {"all"}}, want: ExtractText{Pages: AllPages()}},
		{name: "reverse_pages", want: ReversePages{}},
		{name: "duplicate_pages", params: url.Values{"pages": {"1"}, "duplicate_count": {"0"}}, want: DuplicatePages{Pages: Pages(PageRange{From: 1, To: 1}), Count: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.name, tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, Name(tt.name), got.Name())
		})
	}
}

func TestParseValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		params MapParams
		field  string
	}{
		{name: "unknown", field: "operation"},
		{name: "rotate", field: "angle"},
		{name: "rotate", params: MapParams{"angle": "45"}, field: "angle"},
		{name: "delete_pages", field: "pages"},
		{name: "extract_pages", params: MapParams{"pages": "3-1"}, field: "pages"},
		{name: "encrypt", field: "user_password"},
		{name: "decrypt", field: "password"},
		{name: "overlay", params: MapParams{"overlay_page_number": "0"}, field: "overlay_page_number"},
		{name: "duplicate_pages", params: MapParams{"pages": "1", "duplicate_count": "11"}, field: "duplicate_count"},
		{name: "duplicate_pages", params: MapParams{"pages": "1", "duplicate_count": "x"}, field: "duplicate_count"},
	}

	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.field, func(t *testing.T) {
			_, err := Parse(tt.name, tt.params)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestArgsBuildsDiscreteArgv(t *testing.T) {
	args, err := Args(Rotate{Angle: Angle90, Pages: Pages(PageRange{From: 1, To: 3})}, []string{"/w/a b.pdf"}, "/w/out.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"--operation", "rotate",
		"--input", "/w/a b.pdf",
		"--angle", "90",
		"--pages", "1-3",
		"--output", "/w/out.pdf",
	}, args)
}

func TestArgsOverlayUsesSecondInputAsOverlay(t *testing.T) {
	args, err := Args(Overlay{OverlayPage: 2}, []string{"/w/base.pdf", "/w/stamp.pdf"}, "/w/out.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"--operation", "overlay",
		"--input", "/w/base.pdf",
		"--overlay-pdf", "/w/stamp.pdf",
		"--overlay-page-number", "2",
		"--output", "/w/out.pdf",
	}, args)
}

func TestArgsMergeAndEncrypt(t *testing.T) {
	args, err := Args(Merge{}, []string{"/a.pdf", "/b.pdf", "/c.pdf"}, "/o.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"--operation", "merge", "--input", "/a.pdf", "/b.pdf", "/c.pdf", "--output", "/o.pdf"}, args)

	args, err = Args(Encrypt{UserPassword: "secret"}, []string{"/a.pdf"}, "/o.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"--operation", "encrypt", "--input", "/a.pdf", "--user-password", "secret", "--output", "/o.pdf"}, args)
}

func TestCheckInputs(t *testing.T) {
	assert.Error(t, CheckInputs(Merge{}, 1))
	assert.NoError(t, CheckInputs(Merge{}, 2))
	assert.NoError(t, CheckInputs(Merge{}, 7))
	assert.Error(t, CheckInputs(Rotate{}, 2))
	assert.Error(t, CheckInputs(Overlay{}, 1))
	assert.NoError(t, CheckInputs(Overlay{}, 2))

	_, err := Args(ReversePages{}, nil, "/o.pdf")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "files", verr.Field)
}

func TestDisplayName(t *testing.T) {
	name, err := DisplayName(Merge{}, "")
	require.NoError(t, err)
	assert.Equal(t, "merged-document.pdf", name)

	name, err = DisplayName(ExtractText{}, "notes_1")
	require.NoError(t, err)
	assert.Equal(t, "notes_1.txt", name)

	_, err = DisplayName(Merge{}, "../etc/passwd")
	assert.Error(t, err)

	for _, n := range Names() {
		op, err := Parse(string(n), MapParams{"angle": "90", "pages": "1", "user_password": "x", "password": "x"})
		require.NoError(t, err, n)
		_, err = DisplayName(op, "")
		assert.NoError(t, err, n)
	}
}
