package index_test

import (
	"testing"

	"github.com/syssam/relvar/schema"
	"github.com/syssam/relvar/schema/index"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type TestAnnotation struct{}

func (TestAnnotation) Name() string { return "TestAnnotation" }

func TestIndexFields(t *testing.T) {
	tests := []struct {
		name     string
		build    func() *schema.Key
		validate func(t *testing.T, k *schema.Key)
	}{
		{
			name:  "plain",
			build: func() *schema.Key { return index.Fields("last", "first").Descriptor() },
			validate: func(t *testing.T, k *schema.Key) {
				assert.Equal(t, []string{"last", "first"}, k.Attributes)
				assert.False(t, k.Unique)
				assert.False(t, k.Identifying)
				assert.Empty(t, k.Name)
			},
		},
		{
			name:  "unique",
			build: func() *schema.Key { return index.Fields("email").Unique().Name("by_email").Descriptor() },
			validate: func(t *testing.T, k *schema.Key) {
				assert.True(t, k.Unique)
				assert.Equal(t, "by_email", k.Name)
			},
		},
		{
			name:  "identifying",
			build: func() *schema.Key { return index.Fields("code").Identifying().Descriptor() },
			validate: func(t *testing.T, k *schema.Key) {
				assert.True(t, k.Unique)
				assert.True(t, k.Identifying)
			},
		},
		{
			name:  "annotations",
			build: func() *schema.Key { return index.Fields("a").Annotations(TestAnnotation{}).Descriptor() },
			validate: func(t *testing.T, k *schema.Key) {
				require.Len(t, k.Annotations, 1)
			},
		},
		{
			name:  "empty",
			build: func() *schema.Key { return index.Fields().Descriptor() },
			validate: func(t *testing.T, k *schema.Key) {
				require.Error(t, k.Err)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.validate(t, tt.build())
		})
	}
}
