package voice

import (
	"context"
	"fmt"
	"testing"

	"github.com/hybridz/portfolio-whatsapp-bridge/internal/gladia"
	"github.com/hybridz/portfolio-whatsapp-bridge/internal/outbound"
)

type fakeUploader struct {
	mediaID string
	err     error
	calls   int
}

func (f *fakeUploader) UploadMedia(_ context.Context, _ []byte, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.mediaID, nil
}

// fakeTranscriber fails the first failures calls, then returns result.
type fakeTranscriber struct {
	failures int
	result   *gladia.Result
	calls    int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []byte, _ gladia.Options) (*gladia.Result, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, fmt.Errorf("vendor unavailable (call %d)", f.calls)
	}
	return f.result, nil
}

type fakeSender struct {
	sent []outbound.Request
	err  error
}

func (f *fakeSender) Send(_ context.Context, req outbound.Request) (string, error) {
	f.sent = append(f.sent, req)
	if f.err != nil {
		return "", f.err
	}
	return "wamid.voice", nil
}

func newTestPipeline(tr *fakeTranscriber) (*Pipeline, *fakeUploader, *fakeSender) {
	up := &fakeUploader{mediaID: "media-77"}
	snd := &fakeSender{}
	return NewPipeline(up, tr, snd, "237671178991"), up, snd
}

func TestProcessSendsAudioWithTranscriptionCaption(t *testing.T) {
	tr := &fakeTranscriber{result: &gladia.Result{Transcription: "bonjour"}}
	p, up, snd := newTestPipeline(tr)

	res, err := p.Process(context.Background(), []byte("audio-bytes"), Options{IncludeTranscription: true})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if up.calls != 1 {
		t.Errorf("upload calls = %d, want 1", up.calls)
	}
	if res.MessageID != "wamid.voice" {
		t.Errorf("message id = %q, want wamid.voice", res.MessageID)
	}
	if res.Transcription != "bonjour" {
		t.Errorf("transcription = %q, want bonjour", res.Transcription)
	}

	if len(snd.sent) != 1 {
		t.Fatalf("got %d sends, want 1", len(snd.sent))
	}
	req := snd.sent[0]
	if req.Kind != outbound.KindAudio || req.Audio == nil {
		t.Fatalf("send request not audio: %+v", req)
	}
	if req.Audio.ID != "media-77" {
		t.Errorf("media id = %q, want media-77", req.Audio.ID)
	}
	if req.Audio.Caption != "Transcription: bonjour" {
		t.Errorf("caption = %q", req.Audio.Caption)
	}
	if req.To != "237671178991" {
		t.Errorf("to = %q, want owner number", req.To)
	}
}

func TestProcessRetriesOnceThenSucceeds(t *testing.T) {
	tr := &fakeTranscriber{failures: 1, result: &gladia.Result{Transcription: "second try"}}
	p, _, snd := newTestPipeline(tr)

	if _, err := p.Process(context.Background(), []byte("a"), Options{IncludeTranscription: true}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if tr.calls != 2 {
		t.Errorf("transcriber calls = %d, want 2", tr.calls)
	}
	if caption := snd.sent[0].Audio.Caption; caption != "Transcription: second try" {
		t.Errorf("caption = %q", caption)
	}
}

func TestProcessDegradesToPlaceholderAfterTwoFailures(t *testing.T) {
	tr := &fakeTranscriber{failures: 2}
	p, _, snd := newTestPipeline(tr)

	res, err := p.Process(context.Background(), []byte("a"), Options{IncludeTranscription: true})
	if err != nil {
		t.Fatalf("Process must not fail on transcription error: %v", err)
	}

	if tr.calls != 2 {
		t.Errorf("transcriber calls = %d, want exactly 2 (one retry)", tr.calls)
	}
	if len(snd.sent) != 1 {
		t.Fatalf("audio must still be sent, got %d sends", len(snd.sent))
	}
	if caption := snd.sent[0].Audio.Caption; caption != PlaceholderCaption {
		t.Errorf("caption = %q, want %q", caption, PlaceholderCaption)
	}
	if res.Transcription != "" {
		t.Errorf("transcription should be empty on failure, got %q", res.Transcription)
	}
}

func TestProcessSkipsTranscriberWhenNoStageEnabled(t *testing.T) {
	tr := &fakeTranscriber{result: &gladia.Result{Transcription: "unused"}}
	p, _, snd := newTestPipeline(tr)

	if _, err := p.Process(context.Background(), []byte("a"), Options{}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if tr.calls != 0 {
		t.Errorf("transcriber calls = %d, want 0", tr.calls)
	}
	if caption := snd.sent[0].Audio.Caption; caption != "" {
		t.Errorf("caption = %q, want empty", caption)
	}
}

func TestProcessAbortsOnUploadFailure(t *testing.T) {
	tr := &fakeTranscriber{}
	p, up, snd := newTestPipeline(tr)
	up.err = fmt.Errorf("media store down")

	if _, err := p.Process(context.Background(), []byte("a"), Options{IncludeTranscription: true}); err == nil {
		t.Fatal("expected error when upload fails")
	}
	if len(snd.sent) != 0 {
		t.Error("nothing should be sent when upload fails")
	}
	if tr.calls != 0 {
		t.Error("transcription should not run when upload fails")
	}
}

func TestBuildCaptionAssemblesAllStages(t *testing.T) {
	caption := buildCaption(&Result{
		Transcription: "salut",
		Translation:   "hi",
		Speakers: []gladia.Speaker{
			{ID: 0, Text: "salut", Start: 0, End: 1.2},
			{ID: 1, Text: "ça va", Start: 1.3, End: 2.0},
		},
	})

	want := "Transcription: salut\n\nTraduction: hi\n\nIntervenants:\nSpeaker 0: salut\nSpeaker 1: ça va"
	if caption != want {
		t.Errorf("caption = %q, want %q", caption, want)
	}
}

func TestBuildCaptionOmitsEmptyStages(t *testing.T) {
	caption := buildCaption(&Result{Translation: "hi"})
	if caption != "Traduction: hi" {
		t.Errorf("caption = %q, want only the translation block", caption)
	}
}
