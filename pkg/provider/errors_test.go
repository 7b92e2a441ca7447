package provider

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderError(t *testing.T) {
	tests := []struct {
		err  *ProviderError
		want string
	}{
		{&ProviderError{Op: "Get", Provider: ProviderS3, Bucket: "mian", Key: "u1/p1/otu_table.tsv", Err: ErrNotFound},
			"s3 Get: mian/u1/p1/otu_table.tsv: object not found"},
		{&ProviderError{Op: "List", Provider: ProviderS3, Bucket: "mian", Err: ErrAccessDenied},
			"s3 List: mian: access denied"},
		{&ProviderError{Op: "Head", Provider: ProviderFile, Key: "u1/p1/project.yaml", Err: ErrNotFound},
			"file Head: u1/p1/project.yaml: object not found"},
		{&ProviderError{Op: "List", Provider: ProviderFile, Err: ErrThrottled},
			"file List: request throttled"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestClassifiers(t *testing.T) {
	wrap := func(err error) error {
		return fmt.Errorf("load: %w", &ProviderError{Op: "Get", Provider: ProviderS3, Err: err})
	}

	assert.True(t, IsNotFound(wrap(ErrNotFound)))
	assert.False(t, IsNotFound(wrap(ErrAccessDenied)))

	assert.True(t, IsUnavailable(wrap(ErrThrottled)))
	assert.True(t, IsUnavailable(wrap(ErrProviderUnavailable)))
	assert.False(t, IsUnavailable(wrap(ErrNotFound)))
	assert.False(t, IsUnavailable(nil))
}
