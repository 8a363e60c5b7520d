package storage

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/daaas-storage/internal/ingest"
	"github.com/andresuchdata/daaas-storage/internal/table"
)

type fakeEvents struct {
	ch     chan types.SelectObjectContentEventStream
	err    error
	closed bool
}

func newFakeEvents(events ...types.SelectObjectContentEventStream) *fakeEvents {
	ch := make(chan types.SelectObjectContentEventStream, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return &fakeEvents{ch: ch}
}

func (f *fakeEvents) Events() <-chan types.SelectObjectContentEventStream { return f.ch }
func (f *fakeEvents) Close() error                                        { f.closed = true; return nil }
func (f *fakeEvents) Err() error                                          { return f.err }

type fakeSelector struct {
	events *fakeEvents
	input  *s3.SelectObjectContentInput
	err    error
}

func (f *fakeSelector) SelectObjectContent(_ context.Context, in *s3.SelectObjectContentInput) (EventReader, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

func records(s string) types.SelectObjectContentEventStream {
	return &types.SelectObjectContentEventStreamMemberRecords{Value: types.RecordsEvent{Payload: []byte(s)}}
}

func TestSelectFeedsPipeline(t *testing.T) {
	events := newFakeEvents(
		&types.SelectObjectContentEventStreamMemberCont{},
		records("{\"x\": 1}\n{\"x\""),
		&types.SelectObjectContentEventStreamMemberProgress{},
		records(": 2}\n"),
		&types.SelectObjectContentEventStreamMemberStats{},
		&types.SelectObjectContentEventStreamMemberEnd{},
	)
	selector := &fakeSelector{events: events}
	c := NewClient("minio-standard", newFakeStorage(), selector, Options{})

	stream, err := c.Select(context.Background(), "data", "exp.json", SelectQuery{})
	require.NoError(t, err)

	logger := zerolog.Nop()
	p := ingest.New(ingest.Options{StagingDir: t.TempDir(), Logger: &logger, Metrics: ingest.NewMetrics(prometheus.NewRegistry())})
	tbl, err := p.Ingest(context.Background(), stream, table.JSONLines(table.FrameForm))
	require.NoError(t, err)

	rows, cols := tbl.Shape()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 1, cols)
	assert.True(t, events.closed)

	assert.Equal(t, "SELECT * FROM S3Object", aws.ToString(selector.input.Expression))
	assert.Equal(t, types.JSONTypeLines, selector.input.InputSerialization.JSON.Type)
}

func TestSelectWithoutEndIsTruncated(t *testing.T) {
	events := newFakeEvents(records("{\"x\": 1}\n"))
	events.err = errors.New("unexpected EOF")
	c := NewClient("minio-standard", newFakeStorage(), &fakeSelector{events: events}, Options{})

	stream, err := c.Select(context.Background(), "data", "exp.json", SelectQuery{})
	require.NoError(t, err)

	ev, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, ev.Payload)

	_, err = stream.Next(context.Background())
	assert.ErrorIs(t, err, ingest.ErrStreamTruncated)
	assert.Contains(t, err.Error(), "minio-standard/data/exp.json")
	assert.Contains(t, err.Error(), "unexpected EOF")
}

func TestSelectEndThenEOF(t *testing.T) {
	c := NewClient("i", newFakeStorage(), &fakeSelector{events: newFakeEvents(&types.SelectObjectContentEventStreamMemberEnd{})}, Options{})
	stream, err := c.Select(context.Background(), "b", "k", SelectQuery{})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = stream.Next(context.Background())
		assert.ErrorIs(t, err, io.EOF)
	}
}

func TestSelectCSVQuery(t *testing.T) {
	selector := &fakeSelector{events: newFakeEvents()}
	c := NewClient("i", newFakeStorage(), selector, Options{})

	_, err := c.Select(context.Background(), "b", "k.csv", SelectQuery{
		Expression: "SELECT s.x FROM S3Object s",
		Format:     FormatCSV,
		CSVHeader:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, types.FileHeaderInfoUse, selector.input.InputSerialization.CSV.FileHeaderInfo)
	assert.NotNil(t, selector.input.OutputSerialization.CSV)
	assert.Equal(t, "k.csv", aws.ToString(selector.input.Key))
}

func TestSelectErrors(t *testing.T) {
	c := NewClient("i", newFakeStorage(), &fakeSelector{err: errors.New("403 Forbidden")}, Options{})
	_, err := c.Select(context.Background(), "b", "k", SelectQuery{})
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = NewClient("i", newFakeStorage(), nil, Options{}).Select(context.Background(), "b", "k", SelectQuery{})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
