package orchestrator

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"

	"vidlense/internal/functions"
	"vidlense/internal/gateway"
	"vidlense/internal/models"
	"vidlense/internal/modes"
)

type fakeGateway struct {
	mu         sync.Mutex
	upload     func(tok *gateway.CancelToken) (*models.UploadedFile, error)
	generate   func(req gateway.GenerateRequest) (*gateway.Result, error)
	translate  func(texts []string, lang string) ([]string, error)
	shorten    func(text string) (string, error)
	explain    func(action models.NoteAction, note models.Note) (string, error)
	translated int
}

var testFile = &models.UploadedFile{Name: "files/1", MIMEType: "video/mp4", URI: "https://files/1", ProcessingState: models.StateReady}

func (f *fakeGateway) Upload(ctx context.Context, r io.Reader, displayName, mimeType string, tok *gateway.CancelToken) (*models.UploadedFile, error) {
	if f.upload == nil {
		return testFile, nil
	}
	return f.upload(tok)
}

func (f *fakeGateway) Generate(ctx context.Context, req gateway.GenerateRequest) (*gateway.Result, error) {
	return f.generate(req)
}

func (f *fakeGateway) TranslateBatch(ctx context.Context, texts []string, lang string) ([]string, error) {
	f.mu.Lock()
	f.translated++
	f.mu.Unlock()
	if f.translate == nil {
		out := make([]string, len(texts))
		for i, t := range texts {
			out[i] = lang + ":" + t
		}
		return out, nil
	}
	return f.translate(texts, lang)
}

func (f *fakeGateway) ShortenText(ctx context.Context, text string) (string, error) {
	return f.shorten(text)
}

func (f *fakeGateway) ExplainNote(ctx context.Context, action models.NoteAction, note models.Note, file *models.UploadedFile, language string) (string, error) {
	return f.explain(action, note)
}

func timecodes(items ...string) *gateway.Result {
	call := functions.Call{Kind: functions.SetTimecodes}
	for i := 0; i+1 < len(items); i += 2 {
		call.Timecodes = append(call.Timecodes, models.TimecodeItem{Time: items[i], Text: items[i+1]})
	}
	return &gateway.Result{Calls: []functions.Call{call}}
}

func readySession(t *testing.T, gw *fakeGateway) *Session {
	t.Helper()
	s := NewSession(gw, nil, nil)
	if err := s.StartUpload(context.Background(), strings.NewReader("video"), "lecture.mp4", "video/mp4", "/media/lecture.mp4"); err != nil {
		t.Fatalf("StartUpload: %v", err)
	}
	return s
}

func TestUploadBindsFile(t *testing.T) {
	s := readySession(t, &fakeGateway{})
	snap := s.Snapshot()
	if snap.State != StateReady || snap.File == nil || snap.File.URI != testFile.URI {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if snap.VideoID != "lecture.mp4" || snap.VideoURL != "/media/lecture.mp4" {
		t.Errorf("video not recorded: %+v", snap)
	}
}

func TestCancelUploadDiscardsLateResult(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	gw := &fakeGateway{upload: func(tok *gateway.CancelToken) (*models.UploadedFile, error) {
		close(started)
		<-release
		// The service finished anyway; the session must ignore it.
		return testFile, nil
	}}
	s := NewSession(gw, nil, nil)

	done := make(chan error, 1)
	go func() {
		done <- s.StartUpload(context.Background(), strings.NewReader("x"), "a.mp4", "video/mp4", "/media/a.mp4")
	}()
	<-started
	s.CancelUpload()
	close(release)

	if err := <-done; !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	snap := s.Snapshot()
	if snap.File != nil || snap.State != StateCancelled || snap.VideoURL != "" {
		t.Errorf("cancelled upload left state behind: %+v", snap)
	}
}

func TestUploadFailure(t *testing.T) {
	gw := &fakeGateway{upload: func(*gateway.CancelToken) (*models.UploadedFile, error) {
		return nil, gateway.ErrUpload
	}}
	s := NewSession(gw, nil, nil)
	err := s.StartUpload(context.Background(), strings.NewReader("x"), "a.mp4", "video/mp4", "")
	if !errors.Is(err, gateway.ErrUpload) {
		t.Fatalf("expected ErrUpload, got %v", err)
	}
	snap := s.Snapshot()
	if snap.State != StateFailed || !snap.VideoError || snap.File != nil || snap.Notice == "" {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	if err := s.SelectMode(context.Background(), modes.Summary, ""); !errors.Is(err, ErrNoFile) {
		t.Errorf("expected ErrNoFile after failed upload, got %v", err)
	}
}

func TestSelectModeRequiresFile(t *testing.T) {
	s := NewSession(&fakeGateway{}, nil, nil)
	if err := s.SelectMode(context.Background(), modes.Quiz, ""); !errors.Is(err, ErrNoFile) {
		t.Fatalf("expected ErrNoFile, got %v", err)
	}
	snap := s.Snapshot()
	if snap.Notice != "Please upload a video to start." || snap.State != StateIdle || snap.ActiveMode != "" {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	if err := s.SelectMode(context.Background(), "Poetry", ""); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("expected ErrUnknownMode, got %v", err)
	}
}

func TestSelectModeAccumulatesChunks(t *testing.T) {
	var gotReq gateway.GenerateRequest
	gw := &fakeGateway{generate: func(req gateway.GenerateRequest) (*gateway.Result, error) {
		gotReq = req
		first := timecodes("0:00", "one", "0:10", "two")
		second := timecodes("0:20", "three")
		quiz := functions.Call{Kind: functions.SetQuiz, Questions: []models.QuizQuestion{{Question: "q", Options: []string{"a"}, Answer: "a"}}}
		return &gateway.Result{Calls: []functions.Call{first.Calls[0], second.Calls[0], quiz}}, nil
	}}
	s := readySession(t, gw)

	if err := s.SelectMode(context.Background(), modes.KeyMoments, "ignored"); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if len(snap.Timecodes) != 3 || snap.Timecodes[2].Text != "three" {
		t.Errorf("chunks not appended in order: %+v", snap.Timecodes)
	}
	if len(snap.Quiz) != 1 {
		t.Errorf("quiz call not applied: %+v", snap.Quiz)
	}
	if snap.IsLoading || snap.State != StateReady || snap.ActiveMode != modes.KeyMoments {
		t.Errorf("unexpected state %+v", snap)
	}
	if snap.CustomInput != "" {
		t.Error("custom input kept for a non-custom mode")
	}
	mode, _ := modes.Lookup(modes.KeyMoments)
	if gotReq.Prompt != mode.Template || gotReq.File == nil {
		t.Errorf("unexpected request %+v", gotReq)
	}
}

func TestSelectModeCustomPrompt(t *testing.T) {
	var prompt string
	gw := &fakeGateway{generate: func(req gateway.GenerateRequest) (*gateway.Result, error) {
		prompt = req.Prompt
		return &gateway.Result{Text: "The video does not contain such information."}, nil
	}}
	s := readySession(t, gw)

	if err := s.SelectMode(context.Background(), modes.QABot, "What is a cell?"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(prompt, `"What is a cell?"`) {
		t.Errorf("custom input missing from prompt: %s", prompt)
	}
	snap := s.Snapshot()
	want := []models.TimecodeItem{{Time: "0:00", Text: "The video does not contain such information."}}
	if !reflect.DeepEqual(snap.Timecodes, want) {
		t.Errorf("text fallback = %+v", snap.Timecodes)
	}
	if snap.CustomInput != "What is a cell?" {
		t.Errorf("custom input = %q", snap.CustomInput)
	}
}

// blockingGenerate makes generations for mode wait for release and answer with
// stale; every other mode answers fresh immediately.
func blockingGenerate(mode string, started, release chan struct{}) func(gateway.GenerateRequest) (*gateway.Result, error) {
	m, _ := modes.Lookup(mode)
	return func(req gateway.GenerateRequest) (*gateway.Result, error) {
		if req.Prompt == m.Template {
			close(started)
			<-release
			return timecodes("0:00", "stale"), nil
		}
		return timecodes("0:00", "fresh"), nil
	}
}

func TestStopBeforeGenerationRuns(t *testing.T) {
	s := readySession(t, &fakeGateway{generate: func(gateway.GenerateRequest) (*gateway.Result, error) {
		t.Error("stopped generation reached the service")
		return timecodes("0:00", "late"), nil
	}})

	g, err := s.BeginMode(modes.KeyMoments, "")
	if err != nil {
		t.Fatal(err)
	}
	if snap := s.Snapshot(); snap.State != StateGenerating || !snap.IsLoading {
		t.Fatalf("BeginMode should enter generating, got %+v", snap)
	}
	s.StopGeneration()

	if err := g.Run(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	snap := s.Snapshot()
	if snap.State != StateReady || snap.Timecodes != nil || snap.Notice != "Content generation stopped." {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestCancelBeforeUploadRuns(t *testing.T) {
	uploads := &fakeUploadLog{}
	gw := &fakeGateway{upload: func(*gateway.CancelToken) (*models.UploadedFile, error) {
		t.Error("cancelled upload reached the service")
		return testFile, nil
	}}
	s := NewSession(gw, nil, uploads)

	u := s.BeginUpload("a.mp4", "video/mp4", "/media/a.mp4")
	if snap := s.Snapshot(); snap.State != StateUploading || snap.VideoURL != "/media/a.mp4" {
		t.Fatalf("BeginUpload should enter uploading, got %+v", snap)
	}
	s.CancelUpload()
	if !u.Cancelled() {
		t.Fatal("upload should report cancellation")
	}

	if err := u.Run(context.Background(), strings.NewReader("x")); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if snap := s.Snapshot(); snap.State != StateCancelled || snap.File != nil {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if len(uploads.states) != 1 || uploads.states[0] != models.VideoCancelled {
		t.Errorf("upload log states = %v, want [cancelled]", uploads.states)
	}
}

func TestUploadFailBeforeRun(t *testing.T) {
	s := NewSession(&fakeGateway{}, nil, nil)
	u := s.BeginUpload("a.mp4", "video/mp4", "/media/a.mp4")
	boom := errors.New("disk full")
	if err := u.Fail(boom); !errors.Is(err, boom) {
		t.Fatalf("Fail returned %v", err)
	}
	snap := s.Snapshot()
	if snap.State != StateFailed || !snap.VideoError || snap.Notice == "" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestNewModeCancelsPreviousGeneration(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s := readySession(t, &fakeGateway{generate: blockingGenerate(modes.KeyMoments, started, release)})

	done := make(chan error, 1)
	go func() { done <- s.SelectMode(context.Background(), modes.KeyMoments, "") }()
	<-started

	if err := s.SelectMode(context.Background(), modes.Summary, ""); err != nil {
		t.Fatal(err)
	}
	close(release)
	if err := <-done; !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled for superseded generation, got %v", err)
	}

	snap := s.Snapshot()
	if snap.ActiveMode != modes.Summary || len(snap.Timecodes) != 1 || snap.Timecodes[0].Text != "fresh" {
		t.Errorf("stale generation overwrote content: %+v", snap)
	}
}

func TestStopGeneration(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s := readySession(t, &fakeGateway{generate: blockingGenerate(modes.KeyMoments, started, release)})

	done := make(chan error, 1)
	go func() { done <- s.SelectMode(context.Background(), modes.KeyMoments, "") }()
	<-started

	if snap := s.Snapshot(); snap.State != StateGenerating || !snap.IsLoading {
		t.Fatalf("expected generating, got %+v", snap)
	}
	s.StopGeneration()
	snap := s.Snapshot()
	if snap.State != StateReady || snap.IsLoading || snap.Notice != "Content generation stopped." {
		t.Errorf("stop did not return to ready: %+v", snap)
	}

	close(release)
	if err := <-done; !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if snap := s.Snapshot(); snap.Timecodes != nil {
		t.Errorf("stopped generation populated content: %+v", snap.Timecodes)
	}
}

func TestGenerationError(t *testing.T) {
	gw := &fakeGateway{generate: func(gateway.GenerateRequest) (*gateway.Result, error) {
		return nil, gateway.ErrGeneration
	}}
	s := readySession(t, gw)
	if err := s.SelectMode(context.Background(), modes.Flashcards, ""); !errors.Is(err, gateway.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
	snap := s.Snapshot()
	if snap.Notice != "An error occurred while generating content." || snap.IsLoading || snap.State != StateReady {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if snap.Timecodes != nil || snap.Flashcards != nil {
		t.Error("stores should stay empty after a failed generation")
	}
}

func TestAutoTranslateRunsOnce(t *testing.T) {
	gw := &fakeGateway{generate: func(gateway.GenerateRequest) (*gateway.Result, error) {
		return timecodes("0:00", "hola", "0:05", "adios"), nil
	}}
	s := readySession(t, gw)
	s.SetTargetLanguage("English")

	if err := s.SelectMode(context.Background(), modes.Script, ""); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	for i, it := range snap.Timecodes {
		if it.TranslatedText == nil || *it.TranslatedText != "English:"+it.Text {
			t.Errorf("item %d not translated: %+v", i, it)
		}
	}
	if gw.translated != 1 {
		t.Errorf("expected one translation request, got %d", gw.translated)
	}

	// Modes without auto-translation leave text alone.
	if err := s.SelectMode(context.Background(), modes.KeyMoments, ""); err != nil {
		t.Fatal(err)
	}
	if gw.translated != 1 {
		t.Errorf("key moments triggered a translation")
	}
}

func TestAutoTranslateSkippedWhenTranslated(t *testing.T) {
	tr := "hello"
	gw := &fakeGateway{generate: func(gateway.GenerateRequest) (*gateway.Result, error) {
		return &gateway.Result{Calls: []functions.Call{{
			Kind:      functions.SetTimecodesWithTranslation,
			Timecodes: []models.TimecodeItem{{Time: "0:00", Text: "hola", TranslatedText: &tr}},
		}}}, nil
	}}
	s := readySession(t, gw)
	if err := s.SelectMode(context.Background(), modes.Script, ""); err != nil {
		t.Fatal(err)
	}
	if gw.translated != 0 {
		t.Errorf("already translated content was translated again")
	}
}

func TestAutoTranslateFailure(t *testing.T) {
	gw := &fakeGateway{
		generate: func(gateway.GenerateRequest) (*gateway.Result, error) {
			return timecodes("0:00", "hola"), nil
		},
		translate: func([]string, string) ([]string, error) {
			return nil, gateway.ErrTranslation
		},
	}
	s := readySession(t, gw)
	if err := s.SelectMode(context.Background(), modes.Script, ""); err != nil {
		t.Fatalf("generation itself succeeded: %v", err)
	}
	snap := s.Snapshot()
	if snap.Notice != "Could not automatically translate the script." {
		t.Errorf("notice = %q", snap.Notice)
	}
	if len(snap.Timecodes) != 1 || snap.Timecodes[0].TranslatedText != nil || snap.IsTranslating {
		t.Errorf("unexpected content %+v", snap)
	}
}

func TestManualTranslateMergesByPosition(t *testing.T) {
	gw := &fakeGateway{
		generate: func(gateway.GenerateRequest) (*gateway.Result, error) {
			return timecodes("0:00", "hello", "0:02", "", "0:04", "world"), nil
		},
		translate: func(texts []string, lang string) ([]string, error) {
			return []string{"hola", "", "mundo"}, nil
		},
	}
	s := readySession(t, gw)
	s.SelectMode(context.Background(), modes.KeyMoments, "")

	if err := s.Translate(context.Background(), "Spanish"); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	want := []string{"hola", "", "mundo"}
	for i, it := range snap.Timecodes {
		if it.TranslatedText == nil || *it.TranslatedText != want[i] {
			t.Errorf("item %d = %v, want %q", i, it.TranslatedText, want[i])
		}
	}
	if snap.TargetLanguage != "Spanish" {
		t.Errorf("target language = %q", snap.TargetLanguage)
	}
}

func TestTranslateDroppedWhenContentReplaced(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	calls := 0
	gw := &fakeGateway{
		generate: func(gateway.GenerateRequest) (*gateway.Result, error) {
			calls++
			return timecodes("0:00", "generation "+string(rune('0'+calls))), nil
		},
		translate: func(texts []string, lang string) ([]string, error) {
			close(started)
			<-release
			return []string{"old"}, nil
		},
	}
	s := readySession(t, gw)
	s.SelectMode(context.Background(), modes.KeyMoments, "")

	done := make(chan error, 1)
	go func() { done <- s.Translate(context.Background(), "") }()
	<-started
	if err := s.SelectMode(context.Background(), modes.Summary, ""); err != nil {
		t.Fatal(err)
	}
	close(release)

	if err := <-done; !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	snap := s.Snapshot()
	if snap.Timecodes[0].Text != "generation 2" || snap.Timecodes[0].TranslatedText != nil {
		t.Errorf("stale translation applied: %+v", snap.Timecodes)
	}
}

func TestShortenTwiceRestores(t *testing.T) {
	var shortened string
	gw := &fakeGateway{
		generate: func(gateway.GenerateRequest) (*gateway.Result, error) {
			return timecodes("0:00", "first point", "1:00", "second point"), nil
		},
		shorten: func(text string) (string, error) {
			shortened = text
			return "Short.", nil
		},
	}
	s := readySession(t, gw)
	s.SelectMode(context.Background(), modes.KeyMoments, "")
	before := s.Snapshot()

	if err := s.ToggleShorten(context.Background()); err != nil {
		t.Fatal(err)
	}
	if shortened != "first point\nsecond point" {
		t.Errorf("shortened input = %q", shortened)
	}
	mid := s.Snapshot()
	if !mid.IsShortened || mid.ActiveMode != modes.Summary || len(mid.Timecodes) != 1 || mid.Timecodes[0].Text != "Short." {
		t.Errorf("unexpected shortened view %+v", mid)
	}

	if err := s.ToggleShorten(context.Background()); err != nil {
		t.Fatal(err)
	}
	after := s.Snapshot()
	if after.IsShortened || after.ActiveMode != before.ActiveMode || !reflect.DeepEqual(after.Timecodes, before.Timecodes) {
		t.Errorf("original not restored:\nbefore %+v\nafter  %+v", before.Timecodes, after.Timecodes)
	}
}

func TestShortenWithoutText(t *testing.T) {
	gw := &fakeGateway{generate: func(gateway.GenerateRequest) (*gateway.Result, error) {
		return timecodes("0:00", "  "), nil
	}}
	s := readySession(t, gw)
	s.SelectMode(context.Background(), modes.KeyMoments, "")

	if err := s.ToggleShorten(context.Background()); !errors.Is(err, ErrNothingToShorten) {
		t.Fatalf("expected ErrNothingToShorten, got %v", err)
	}
	snap := s.Snapshot()
	if snap.Notice != "There is no text to shorten." || snap.IsShortened {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestShortenError(t *testing.T) {
	gw := &fakeGateway{
		generate: func(gateway.GenerateRequest) (*gateway.Result, error) {
			return timecodes("0:00", "text"), nil
		},
		shorten: func(string) (string, error) { return "", gateway.ErrGeneration },
	}
	s := readySession(t, gw)
	s.SelectMode(context.Background(), modes.KeyMoments, "")

	if err := s.ToggleShorten(context.Background()); !errors.Is(err, gateway.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
	snap := s.Snapshot()
	if snap.IsShortened || snap.IsShortening || snap.Timecodes[0].Text != "text" {
		t.Errorf("content changed after failed shorten: %+v", snap)
	}
	if snap.Notice != "An error occurred while shortening the text." {
		t.Errorf("notice = %q", snap.Notice)
	}
}

func TestSnapshotActiveIndexAndCaption(t *testing.T) {
	gw := &fakeGateway{generate: func(gateway.GenerateRequest) (*gateway.Result, error) {
		return timecodes("0:00", "a", "0:30", "b", "1:00", "c"), nil
	}}
	s := readySession(t, gw)
	s.SelectMode(context.Background(), modes.KeyMoments, "")

	if snap := s.Snapshot(); snap.ActiveIndex != -1 || snap.Caption != "a" {
		t.Errorf("at time 0: index %d caption %q", snap.ActiveIndex, snap.Caption)
	}
	s.UpdatePlaybackTime(45)
	if snap := s.Snapshot(); snap.ActiveIndex != 1 || snap.Caption != "b" {
		t.Errorf("at 45s: index %d caption %q", snap.ActiveIndex, snap.Caption)
	}
	seq := s.Seek(75)
	snap := s.Snapshot()
	if snap.ActiveIndex != 2 || snap.Playback.SeekSeq != seq || *snap.Playback.SeekTarget != 75 {
		t.Errorf("seek not reflected: %+v", snap)
	}

	s.SelectMode(context.Background(), modes.Summary, "")
	if snap := s.Snapshot(); snap.ActiveIndex != -1 {
		t.Errorf("non-list mode highlighted item %d", snap.ActiveIndex)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	gw := &fakeGateway{generate: func(gateway.GenerateRequest) (*gateway.Result, error) {
		return &gateway.Result{Calls: []functions.Call{{
			Kind:      functions.SetTimecodesWithObjects,
			Timecodes: []models.TimecodeItem{{Time: "0:00", Text: "desk", Objects: []string{"lamp"}}},
		}}}, nil
	}}
	s := readySession(t, gw)
	s.SelectMode(context.Background(), modes.KeyMoments, "")

	snap := s.Snapshot()
	snap.Timecodes[0].Objects[0] = "changed"
	snap.File.URI = "changed"
	again := s.Snapshot()
	if again.Timecodes[0].Objects[0] != "lamp" || again.File.URI != testFile.URI {
		t.Error("snapshot shares memory with the session")
	}
}

func TestNewUploadClearsEverything(t *testing.T) {
	gw := &fakeGateway{generate: func(gateway.GenerateRequest) (*gateway.Result, error) {
		return timecodes("0:00", "a"), nil
	}}
	s := readySession(t, gw)
	s.SelectMode(context.Background(), modes.KeyMoments, "")
	s.AddNote("remember this")
	s.UpdatePlaybackTime(12)

	if err := s.StartUpload(context.Background(), strings.NewReader("v2"), "second.mp4", "video/mp4", ""); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if snap.Timecodes != nil || snap.Notes != nil || snap.ActiveMode != "" || snap.Playback.Time != 0 || snap.VideoID != "second.mp4" {
		t.Errorf("previous video's state survived: %+v", snap)
	}
}
