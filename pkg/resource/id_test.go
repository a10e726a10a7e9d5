package resource_test

import (
	"testing"

	"github.com/buildbarn/bb-smb/pkg/resource"
	"github.com/stretchr/testify/require"
)

func TestID(t *testing.T) {
	t.Run("Root", func(t *testing.T) {
		id := resource.NewID("")
		require.True(t, id.IsDirectory())
		require.Equal(t, "", id.GetFilename())
		require.Equal(t, "a.avro", id.Resolve("a.avro").String())
	})

	t.Run("Directory", func(t *testing.T) {
		id := resource.NewID("/output/users/")
		require.True(t, id.IsDirectory())
		require.Equal(t, "output/users/", id.String())
		require.Equal(t, "users", id.GetFilename())
		require.Equal(t, "output/users/metadata.json", id.Resolve("metadata.json").String())
		require.Equal(t, "output/users/.temp-beam-x/", id.ResolveDirectory(".temp-beam-x").String())
		require.Equal(t, id, id.GetDirectory())
	})

	t.Run("File", func(t *testing.T) {
		id := resource.NewID("output/users/bucket-00000-of-00004.avro")
		require.False(t, id.IsDirectory())
		require.Equal(t, "bucket-00000-of-00004.avro", id.GetFilename())
		require.Equal(t, resource.NewID("output/users/"), id.GetDirectory())
		require.Equal(t, "output/users/metadata.json", id.Resolve("metadata.json").String())
		require.True(t, id.HasPrefix(resource.NewID("output/")))
		require.False(t, id.HasPrefix(resource.NewID("other/")))
	})
}
