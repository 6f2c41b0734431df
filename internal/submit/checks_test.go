package submit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fpang/seetrue/internal/classify"
)

func TestAllowedExtensions(t *testing.T) {
	check := AllowedExtensions("csv", ".TSV")

	assert.NoError(t, check(classify.Payload{Name: "a.CSV", Data: []byte("x")}))
	assert.NoError(t, check(classify.Payload{Name: "a.tsv", Data: []byte("x")}))
	assert.NoError(t, check(classify.Payload{Data: []byte("x")}), "unnamed payloads pass")

	err := check(classify.Payload{Name: "notes.txt", Data: []byte("x")})
	assert.True(t, classify.IsKind(err, classify.KindValidation))

	assert.NoError(t, AllowedExtensions()(classify.Payload{Name: "x.bin"}), "no extensions means no restriction")
}

func TestRequiredColumns(t *testing.T) {
	check := RequiredColumns(DefaultRequiredColumns...)

	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"all present", header + "1,2,3,4,5,Fixation\n", false},
		{"padded header cells", " Timestamp , Gazepoint X,Gazepoint Y ,Pupil area (right) sq mm,Pupil area (left) sq mm, Eye event\n", false},
		{"semicolon delimited", "Timestamp;Gazepoint X;Gazepoint Y;Pupil area (right) sq mm;Pupil area (left) sq mm;Eye event\n", false},
		{"byte order mark", "\xef\xbb\xbf" + header, false},
		{"header only no newline", "Timestamp,Gazepoint X,Gazepoint Y,Pupil area (right) sq mm,Pupil area (left) sq mm,Eye event", false},
		{"missing column", "Timestamp,Gazepoint X\n", true},
		{"unterminated quote", "\"Timestamp,Gazepoint X\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := check(classify.Payload{Data: []byte(tt.data)})
			if tt.wantErr {
				assert.True(t, classify.IsKind(err, classify.KindValidation), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.NoError(t, RequiredColumns()(classify.Payload{Data: []byte("anything")}))
}
