package publish

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/coder-combat/internal/standings"
)

type fakePutter struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

func TestPublish(t *testing.T) {
	fp := &fakePutter{}
	p := New(fp, "brackets", "", zap.NewNop())

	v := standings.View{Summary: "Round 3 - In Progress", Round: 3, Standings: []standings.Entry{{Place: 48, TeamID: 12, Out: "R3_Group_Losers"}}}
	require.NoError(t, p.Publish(context.Background(), v))

	assert.Equal(t, "brackets", aws.ToString(fp.in.Bucket))
	assert.Equal(t, "standings.json", aws.ToString(fp.in.Key))
	assert.Equal(t, "application/json", aws.ToString(fp.in.ContentType))
	assert.Equal(t, int64(len(fp.body)), aws.ToInt64(fp.in.ContentLength))

	var got standings.View
	require.NoError(t, json.Unmarshal(fp.body, &got))
	assert.Equal(t, v.Summary, got.Summary)
	assert.Equal(t, v.Standings, got.Standings)
}

func TestPublishError(t *testing.T) {
	fp := &fakePutter{err: errors.New("access denied")}
	err := New(fp, "brackets", "live.json", zap.NewNop()).Publish(context.Background(), standings.View{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://brackets/live.json")
}
