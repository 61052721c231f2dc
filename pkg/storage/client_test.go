package storage

import (
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/catvault/catvault/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	if params.Body != nil {
		f.body, _ = io.ReadAll(params.Body)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestUpload(t *testing.T) {
	api := &fakeS3{}
	client := NewClientWithAPI(api, "reports")

	res, err := client.Upload(context.Background(), "runs/abc.json", "application/json", []byte(`{"ok":true}`))
	require.NoError(t, err)

	assert.Equal(t, "reports", aws.ToString(api.input.Bucket))
	assert.Equal(t, "runs/abc.json", aws.ToString(api.input.Key))
	assert.Equal(t, "application/json", aws.ToString(api.input.ContentType))
	assert.Equal(t, res.SHA256, api.input.Metadata["sha256"])
	assert.Equal(t, `{"ok":true}`, string(api.body))

	assert.Equal(t, "runs/abc.json", res.Key)
	assert.Equal(t, int64(11), res.Size)
	assert.Len(t, res.SHA256, 64)
}

func TestUpload_Failure(t *testing.T) {
	client := NewClientWithAPI(&fakeS3{err: errors.New("access denied")}, "reports")

	res, err := client.Upload(context.Background(), "runs/abc.json", "application/json", []byte(`{}`))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, errors.ErrNetwork))
}
