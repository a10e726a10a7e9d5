package util_test

import (
	"testing"

	"github.com/buildbarn/bb-smb/pkg/util"
	"github.com/stretchr/testify/require"
)

func TestDisplayData(t *testing.T) {
	dd := util.DisplayData{"compression": "ZSTD"}
	dd.Merge("filenamePolicy.", util.DisplayData{"directory": "out/"})
	require.Equal(t, util.DisplayData{
		"compression":              "ZSTD",
		"filenamePolicy.directory": "out/",
	}, dd)
	require.Equal(t, "compression=ZSTD, filenamePolicy.directory=out/", dd.String())
}
