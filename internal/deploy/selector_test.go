package deploy

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.bluewillows.net/root/rpzsync/pkg/bam"
)

var servers = []bam.Server{
	{ID: "1", Name: "bdds-east"},
	{ID: "2", Name: "bdds-west"},
	{ID: "3", Name: "bdds-lab"},
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name        string
		targets     string
		want        []bam.ID
		wantMissing []string
		wantErr     bool
	}{
		{name: "all", targets: "ALL", want: []bam.ID{"1", "2", "3"}},
		{name: "all trimmed", targets: " ALL ", want: []bam.ID{"1", "2", "3"}},
		{name: "single", targets: "bdds-west", want: []bam.ID{"2"}},
		{name: "list with spaces", targets: "bdds-east, bdds-lab", want: []bam.ID{"1", "3"}},
		{name: "partial match", targets: "bdds-east,ghost", want: []bam.ID{"1"}, wantMissing: []string{"ghost"}},
		{name: "duplicates collapse", targets: "bdds-east,bdds-east", want: []bam.ID{"1"}},
		{name: "lowercase all is a name", targets: "all", wantMissing: []string{"all"}, wantErr: true},
		{name: "no match", targets: "foo,bar", wantMissing: []string{"foo", "bar"}, wantErr: true},
		{name: "empty", targets: "", wantErr: true},
		{name: "case sensitive", targets: "BDDS-EAST", wantMissing: []string{"BDDS-EAST"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, missing, err := Select(tt.targets, servers)
			if tt.wantErr {
				var mismatch *ConfigMismatchError
				require.True(t, errors.As(err, &mismatch), "expected ConfigMismatchError, got %v", err)
				assert.Empty(t, ids)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, ids)
			assert.Equal(t, tt.wantMissing, missing)
		})
	}
}

func TestSelect_AllReturnsEveryID(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		n := 1 + r.Intn(30)
		list := make([]bam.Server, n)
		want := make([]bam.ID, n)
		for j := range list {
			id := bam.ID(fmt.Sprint(r.Intn(1_000_000)))
			list[j] = bam.Server{ID: id, Name: fmt.Sprintf("s%d", j)}
			want[j] = id
		}

		ids, _, err := Select(All, list)
		require.NoError(t, err)
		assert.Equal(t, want, ids)
	}
}

func TestSelect_NoServers(t *testing.T) {
	ids, _, err := Select(All, nil)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, _, err = Select("bdds-east", nil)
	var mismatch *ConfigMismatchError
	assert.True(t, errors.As(err, &mismatch))
}

func TestParseNames(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, ParseNames(" a ,, b ,"))
	assert.Nil(t, ParseNames(" , "))
}
