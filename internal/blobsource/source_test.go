package blobsource

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionTag_DeterministicRegardlessOfInputOrder(t *testing.T) {
	a := []Object{
		{Key: "b.bin", Fingerprint: "100", Size: 10},
		{Key: "a.bin", Fingerprint: "200", Size: 20},
	}
	b := []Object{
		{Key: "a.bin", Fingerprint: "200", Size: 20},
		{Key: "b.bin", Fingerprint: "100", Size: 10},
	}
	assert.Equal(t, VersionTag(a), VersionTag(b))
}

func TestVersionTag_ChangesWithContent(t *testing.T) {
	a := []Object{{Key: "a.bin", Fingerprint: "100", Size: 10}}
	b := []Object{{Key: "a.bin", Fingerprint: "101", Size: 10}}
	assert.NotEqual(t, VersionTag(a), VersionTag(b))
}

func TestVersionTag_Empty(t *testing.T) {
	assert.NotEmpty(t, VersionTag(nil))
}
