package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSES struct {
	mu     sync.Mutex
	inputs []*sesv2.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-" + in.Destination.ToAddresses[0])}, nil
}

func TestSESSend(t *testing.T) {
	api := &fakeSES{}
	transport := newSESWithClient(api, SESConfig{ConfigurationSet: "lists"}, NewComposer(nil), 0, time.Second, zerolog.Nop())

	id, err := transport.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, "ses-bob@example.net", id)

	require.Len(t, api.inputs, 1)
	in := api.inputs[0]
	assert.Equal(t, "ann@example.com", aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"bob@example.net"}, in.Destination.ToAddresses)
	assert.Equal(t, "lists", aws.ToString(in.ConfigurationSetName))
	require.NotNil(t, in.Content.Raw)
	assert.Contains(t, string(in.Content.Raw.Data), "Subject: Hello\r\n")

	assert.Equal(t, Capabilities{SelfThrottled: true, ASCIIHeaders: true}, transport.Capabilities())
	assert.Equal(t, "ses", transport.Name())
}

func TestSESSendError(t *testing.T) {
	api := &fakeSES{err: errors.New("MessageRejected: Email address is not verified")}
	transport := newSESWithClient(api, SESConfig{}, NewComposer(nil), 0, time.Second, zerolog.Nop())

	_, err := transport.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.Contains(t, Detail(err), "not verified")
}

func TestSESRateGate(t *testing.T) {
	api := &fakeSES{}
	transport := newSESWithClient(api, SESConfig{}, NewComposer(nil), 20, time.Second, zerolog.Nop())

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := transport.Send(context.Background(), testMessage())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Burst of one at 20/s: the third send starts no earlier than 100ms in.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Len(t, api.inputs, 3)
}

func TestNewSESValidation(t *testing.T) {
	_, err := NewSES(context.Background(), SESConfig{AccessKeyID: "AKIA"}, NewComposer(nil), 5, time.Second, zerolog.Nop())
	require.ErrorIs(t, err, ErrTransportConfig)

	transport, err := NewSES(context.Background(), SESConfig{AccessKeyID: "AKIA", SecretAccessKey: "secret"}, NewComposer(nil), 5, time.Second, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, defaultSESRegion, transport.cfg.Region)
}
