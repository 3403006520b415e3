package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIDList(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []int64
		wantErr bool
	}{
		{name: "single", raw: "7", want: []int64{7}},
		{name: "several with spaces", raw: "1, 2 ,3", want: []int64{1, 2, 3}},
		{name: "blank entries skipped", raw: "4,,5,", want: []int64{4, 5}},
		{name: "empty", raw: "", wantErr: true},
		{name: "only commas", raw: " , ,", wantErr: true},
		{name: "not a number", raw: "1,two", wantErr: true},
		{name: "zero", raw: "0", wantErr: true},
		{name: "negative", raw: "-3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIDList(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCleanupCommand_RequiresExactlyOneSelector(t *testing.T) {
	for _, args := range [][]string{
		{},
		{"--nft", "EQnft", "--ids", "1"},
	} {
		cmd := cleanupCommand()
		cmd.SetArgs(args)
		cmd.SilenceUsage = true
		cmd.SilenceErrors = true

		err := cmd.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exactly one of --nft or --ids")
	}
}

func TestCleanupCommand_RejectsBadIDsBeforeConnecting(t *testing.T) {
	cmd := cleanupCommand()
	cmd.SetArgs([]string{"--ids", "1,x"})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid order id")
}
