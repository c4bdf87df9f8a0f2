package source

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryBucket 以内存 map 模拟单个 bucket，ListObjectsV2 每页只返回一个对象以覆盖分页。
type memoryBucket struct {
	objects map[string][]byte
	keys    []string
}

func (b *memoryBucket) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(in.Prefix)
	start := 0
	if token := aws.ToString(in.ContinuationToken); token != "" {
		for i, key := range b.keys {
			if key == token {
				start = i
				break
			}
		}
	}
	out := &s3.ListObjectsV2Output{}
	for i := start; i < len(b.keys); i++ {
		key := b.keys[i]
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
		if i+1 < len(b.keys) {
			out.IsTruncated = aws.Bool(true)
			out.NextContinuationToken = aws.String(b.keys[i+1])
		}
		break
	}
	return out, nil
}

func (b *memoryBucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := b.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func newMemoryBucket(objects map[string][]byte, order ...string) *memoryBucket {
	return &memoryBucket{objects: objects, keys: order}
}

func TestS3StoreNames(t *testing.T) {
	bucket := newMemoryBucket(map[string][]byte{
		"full/fjord.jpg":        []byte("a"),
		"full/encenadaport.jpg": []byte("b"),
		"other/skip.jpg":        []byte("c"),
	}, "full/encenadaport.jpg", "full/fjord.jpg", "other/skip.jpg")

	store := newS3Store(bucket, "assets", "/full/")
	names, err := store.Names(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"encenadaport", "fjord"}, names)
}

func TestS3StoreOpen(t *testing.T) {
	bucket := newMemoryBucket(map[string][]byte{"full/fjord.jpg": []byte("jpeg")}, "full/fjord.jpg")
	store := newS3Store(bucket, "assets", "full")

	rc, err := store.Open(context.Background(), "fjord")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "jpeg", string(body))

	_, err = store.Open(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3StoreObjectKey(t *testing.T) {
	assert.Equal(t, "fjord.jpg", newS3Store(nil, "b", "").objectKey("fjord"))
	assert.Equal(t, "img/full/fjord.jpg", newS3Store(nil, "b", "img/full/").objectKey("fjord"))
}
