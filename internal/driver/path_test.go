package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		base string
		name string
		want string
	}{
		{"/", "", "/"},
		{"/", ".", "/"},
		{"/", `\`, "/"},
		{"/", `\efi\boot`, "/efi/boot"},
		{"/", "efi/boot", "/efi/boot"},
		{"/efi", "boot", "/efi/boot"},
		{"/efi/boot", "", "/efi/boot"},
		{"/efi/boot", ".", "/efi/boot"},
		{"/efi/boot", "..", "/efi"},
		{"/efi/boot", `..\..`, "/"},
		{"/efi/boot", `..\..\..`, "/"},
		{"/efi", `.\boot\.\bootx64.efi`, "/efi/boot/bootx64.efi"},
		{"/", `\a\\b\\\c`, "/a/b/c"},
		{"/", `\a\b\`, "/a/b"},
		{"/a", `\b\..\c`, "/c"},
		{"/a", `b/../c`, "/a/c"},
		{"/", `\..\..\a`, "/a"},
		{"/deep/nest", `mixed\and/slashes`, "/deep/nest/mixed/and/slashes"},
	}
	for _, tc := range cases {
		got := normalizePath(tc.base, tc.name)
		assert.Equalf(t, tc.want, got, "normalizePath(%q, %q)", tc.base, tc.name)
	}
}

func TestNormalizePathIdempotent(t *testing.T) {
	paths := []string{"/", "/efi", "/efi/boot/bootx64.efi", "/a/b/c"}
	for _, p := range paths {
		assert.Equal(t, p, normalizePath("/", p))
		assert.Equal(t, p, normalizePath(p, ""))
	}
}

func TestSplitPath(t *testing.T) {
	cases := []struct {
		path string
		dir  string
		name string
	}{
		{"/", "/", ""},
		{"/a", "/", "a"},
		{"/a/b", "/a", "b"},
		{"/efi/boot/bootx64.efi", "/efi/boot", "bootx64.efi"},
	}
	for _, tc := range cases {
		dir, name := splitPath(tc.path)
		assert.Equal(t, tc.dir, dir, tc.path)
		assert.Equal(t, tc.name, name, tc.path)
	}
}

func TestIsAncestorOf(t *testing.T) {
	assert.True(t, isAncestorOf("/", "/a/b"))
	assert.True(t, isAncestorOf("/a", "/a/b"))
	assert.True(t, isAncestorOf("/a/b", "/a/b"))
	assert.False(t, isAncestorOf("/a/b", "/a"))
	assert.False(t, isAncestorOf("/a", "/ab"))
	assert.False(t, isAncestorOf("/a/c", "/a/b"))
}
