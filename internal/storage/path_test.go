package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		root     string
		relative string
		want     string
	}{
		{"plain join", "hdfs://host:9020", "data/a.txt", "hdfs://host:9020/data/a.txt"},
		{"leading separator", "hdfs://host:9020", "/data/a.txt", "hdfs://host:9020/data/a.txt"},
		{"trailing separator on root", "hdfs://host:9020/", "/data/a.txt", "hdfs://host:9020/data/a.txt"},
		{"many separators", "hdfs://host:9020///", "///data", "hdfs://host:9020/data"},
		{"already absolute", "hdfs://host:9020", "hdfs://host:9020/data/a.txt", "hdfs://host:9020/data/a.txt"},
		{"other authority kept", "hdfs://host:9020", "hdfs://other:8020/x", "hdfs://other:8020/x"},
		{"empty relative", "hdfs://host:9020/base", "", "hdfs://host:9020/base"},
		{"root with path", "hdfs://host:9020/base", "x", "hdfs://host:9020/base/x"},
		{"schemeless root", "/srv/data", "x/y", "/srv/data/x/y"},
		{"schemeless already under root", "/srv/data", "/srv/data/x", "/srv/data/x"},
		{"schemeless root repeated", "/data", "/data/x", "/data/x"},
		{"schemeless sibling prefix", "/srv/data", "/srv/database", "/srv/data/srv/database"},
		{"dotdot untouched", "hdfs://h", "a/../b", "hdfs://h/a/../b"},
		{"slash root", "/", "x", "/x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.root, tt.relative))
		})
	}
}

func TestResolve_Idempotent(t *testing.T) {
	roots := []string{"hdfs://host:9020", "hdfs://host:9020/base/", "s3://bucket", "/srv/data", "file:///tmp/x"}
	paths := []string{"", "a", "/a/b", "//a//b/", "deep/er/path.txt"}

	for _, root := range roots {
		for _, p := range paths {
			once := Resolve(root, p)
			assert.Equal(t, once, Resolve(root, once), "root=%q path=%q", root, p)
		}
	}
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "hdfs://h/data/2109/20240501", Join("hdfs://h/data/", "/2109/", "20240501"))
	assert.Equal(t, "/a/b", Join("/a", "", "b"))
	assert.Equal(t, "/a", Join("/a"))
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Location
	}{
		{"hdfs", "hdfs://host:9020/data/a b.txt", Location{Scheme: "hdfs", Authority: "host:9020", Path: "/data/a b.txt"}},
		{"authority only", "hdfs://host:9020", Location{Scheme: "hdfs", Authority: "host:9020", Path: "/"}},
		{"file scheme", "file:///tmp/x", Location{Scheme: "file", Path: "/tmp/x"}},
		{"plain", "tmp/x", Location{Path: "/tmp/x"}},
		{"percent kept", "s3://b/a%20b", Location{Scheme: "s3", Authority: "b", Path: "/a%20b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Split(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Split("")
	require.Error(t, err)
}

func TestLocation_String(t *testing.T) {
	for _, s := range []string{"hdfs://host:9020/data", "file:///tmp/x", "/plain/path"} {
		loc, err := Split(s)
		require.NoError(t, err)
		assert.Equal(t, s, loc.String())
	}
}

func TestNewResolver(t *testing.T) {
	_, err := NewResolver("  ")
	require.Error(t, err)

	r, err := NewResolver("hdfs://host:9020")
	require.NoError(t, err)
	assert.Equal(t, "hdfs", r.Scheme())
	assert.Equal(t, "hdfs://host:9020", r.Root())
	assert.Equal(t, "hdfs://host:9020/x", r.Resolve("x"))

	plain, err := NewResolver("/srv")
	require.NoError(t, err)
	assert.Empty(t, plain.Scheme())
}

func TestSplitBlocks(t *testing.T) {
	assert.Nil(t, SplitBlocks(0, 4, nil))
	assert.Equal(t, []BlockLocation{{Offset: 0, Length: 3}}, SplitBlocks(3, 0, nil))
	assert.Equal(t, []BlockLocation{
		{Offset: 0, Length: 4, Hosts: []string{"n1"}},
		{Offset: 4, Length: 4, Hosts: []string{"n1"}},
		{Offset: 8, Length: 2, Hosts: []string{"n1"}},
	}, SplitBlocks(10, 4, []string{"n1"}))
}

func TestOutcome(t *testing.T) {
	assert.False(t, Failed.OK())
	for _, o := range []Outcome{Created, AlreadyPresent, Deleted, Absent, Renamed} {
		assert.True(t, o.OK(), o.String())
	}
	assert.Equal(t, "already present", AlreadyPresent.String())
	assert.Equal(t, "failed", Outcome(99).String())
}
