package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/andresuchdata/daaas-storage/internal/ingest"
	"github.com/andresuchdata/daaas-storage/internal/secrets"
)

// Format is the serialisation of the object being queried.
type Format int

const (
	FormatJSONLines Format = iota
	FormatCSV
)

const defaultExpression = "SELECT * FROM S3Object"

// SelectQuery describes an S3 Select request. Results come back as JSON
// lines for JSON input and as headerless CSV for CSV input.
type SelectQuery struct {
	// Expression defaults to "SELECT * FROM S3Object".
	Expression string
	Format     Format
	// CSVHeader marks the first row of a CSV object as column names, which
	// makes them addressable in Expression.
	CSVHeader bool
}

func (q SelectQuery) input(bucket, key string) *s3.SelectObjectContentInput {
	expr := q.Expression
	if expr == "" {
		expr = defaultExpression
	}

	in := &s3.SelectObjectContentInput{
		Bucket:         aws.String(bucket),
		Key:            aws.String(key),
		Expression:     aws.String(expr),
		ExpressionType: types.ExpressionTypeSql,
	}
	switch q.Format {
	case FormatCSV:
		header := types.FileHeaderInfoNone
		if q.CSVHeader {
			header = types.FileHeaderInfoUse
		}
		in.InputSerialization = &types.InputSerialization{
			CSV: &types.CSVInput{FileHeaderInfo: header},
		}
		in.OutputSerialization = &types.OutputSerialization{
			CSV: &types.CSVOutput{},
		}
	default:
		in.InputSerialization = &types.InputSerialization{
			JSON: &types.JSONInput{Type: types.JSONTypeLines},
		}
		in.OutputSerialization = &types.OutputSerialization{
			JSON: &types.JSONOutput{RecordDelimiter: aws.String("\n")},
		}
	}
	return in
}

// EventReader is the event side of an S3 Select response.
// *s3.SelectObjectContentEventStream satisfies it.
type EventReader interface {
	Events() <-chan types.SelectObjectContentEventStream
	Close() error
	Err() error
}

// Selector runs S3 Select requests.
type Selector interface {
	SelectObjectContent(ctx context.Context, in *s3.SelectObjectContentInput) (EventReader, error)
}

// S3Selector implements Selector with the AWS SDK.
type S3Selector struct {
	client *s3.Client
}

// NewS3Selector builds a path-style S3 client for the endpoint in creds.
func NewS3Selector(ctx context.Context, creds secrets.Credentials, region string) (*S3Selector, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKey, creds.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed loading aws config: %w", err)
	}

	endpoint := creds.URL()
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	return &S3Selector{client: client}, nil
}

func (s *S3Selector) SelectObjectContent(ctx context.Context, in *s3.SelectObjectContentInput) (EventReader, error) {
	out, err := s.client.SelectObjectContent(ctx, in)
	if err != nil {
		return nil, err
	}
	return out.GetStream(), nil
}

// selectStream adapts S3 Select events to ingest events. Records events carry
// the payload; stats, progress and continuation events are passed on as
// payload-less control events; the End event terminates the stream.
type selectStream struct {
	events EventReader
	source string
	ended  bool
}

func (s *selectStream) Source() string { return s.source }

func (s *selectStream) Next(ctx context.Context) (ingest.Event, error) {
	if s.ended {
		return ingest.Event{}, io.EOF
	}

	select {
	case <-ctx.Done():
		return ingest.Event{}, ctx.Err()
	case ev, ok := <-s.events.Events():
		if !ok {
			cause := s.events.Err()
			if cause == nil {
				cause = errors.New("event stream closed before end event")
			}
			return ingest.Event{}, &ingest.Error{Kind: ingest.ErrStreamTruncated, Source: s.source, Err: cause}
		}
		switch e := ev.(type) {
		case *types.SelectObjectContentEventStreamMemberRecords:
			if len(e.Value.Payload) == 0 {
				return ingest.Event{}, nil
			}
			return ingest.Event{Payload: e.Value.Payload}, nil
		case *types.SelectObjectContentEventStreamMemberEnd:
			s.ended = true
			return ingest.Event{}, io.EOF
		default:
			return ingest.Event{}, nil
		}
	}
}

func (s *selectStream) Close() error { return s.events.Close() }

var _ Selector = (*S3Selector)(nil)
