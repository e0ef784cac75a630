package stt

import (
	"context"
	"fmt"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sjawhar/ghost-interviewer/internal/gateway"
)

// recognizer is the slice of the speech client we call.
type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)
	Close() error
}

type speechClient struct {
	c *speech.Client
}

func (s speechClient) Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	return s.c.Recognize(ctx, req)
}

func (s speechClient) Close() error { return s.c.Close() }

// GoogleSpeech transcribes with Cloud Speech-to-Text synchronous recognition.
type GoogleSpeech struct {
	c recognizer
}

// NewGoogleSpeech builds a client from a service account file, or from
// application default credentials when credentialsFile is empty.
func NewGoogleSpeech(ctx context.Context, credentialsFile string) (*GoogleSpeech, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return &GoogleSpeech{c: speechClient{c: c}}, nil
}

func (g *GoogleSpeech) Name() string { return "google" }

func (g *GoogleSpeech) Close() error { return g.c.Close() }

func (g *GoogleSpeech) Transcribe(ctx context.Context, u Utterance) (Transcript, error) {
	language := u.Language
	if language == "" {
		language = "en-US"
	}

	resp, err := g.c.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(u.SampleRate),
			LanguageCode:               language,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: u.PCM},
		},
	})
	if err != nil {
		return Transcript{}, classifyGRPC(err)
	}

	var (
		text string
		conf float64
	)
	for _, r := range resp.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		alt := r.Alternatives[0]
		if text != "" {
			text += " "
		}
		text += alt.Transcript
		if c := float64(alt.Confidence); c > conf {
			conf = c
		}
	}
	return Transcript{Text: text, Confidence: conf, Language: language}, nil
}

func classifyGRPC(err error) error {
	wrapped := fmt.Errorf("google speech: %w", err)
	switch status.Code(err) {
	case codes.ResourceExhausted, codes.Unavailable, codes.DeadlineExceeded, codes.Internal:
		return gateway.Transient(wrapped)
	default:
		return wrapped
	}
}
