package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"vidlense/internal/functions"
	"vidlense/internal/gateway"
	"vidlense/internal/models"
	"vidlense/internal/modes"
)

type recordedSignal struct {
	kind    string
	videoID string
	a, b    float64
	term    string
	ranges  []models.WatchedRange
}

type fakeHistory struct {
	signals []recordedSignal
}

func (h *fakeHistory) RecordWatchProgress(videoID string, watched, total float64) error {
	h.signals = append(h.signals, recordedSignal{kind: "progress", videoID: videoID, a: watched, b: total})
	return nil
}

func (h *fakeHistory) RecordWatchedRanges(videoID string, ranges []models.WatchedRange) error {
	h.signals = append(h.signals, recordedSignal{kind: "ranges", videoID: videoID, ranges: ranges})
	return nil
}

func (h *fakeHistory) RecordQuizScore(videoID string, score, total int) error {
	h.signals = append(h.signals, recordedSignal{kind: "quiz", videoID: videoID, a: float64(score), b: float64(total)})
	return nil
}

func (h *fakeHistory) RecordCardFlip(videoID, term string) error {
	h.signals = append(h.signals, recordedSignal{kind: "flip", videoID: videoID, term: term})
	return nil
}

func quizSession(t *testing.T, hist *fakeHistory) *Session {
	t.Helper()
	gw := &fakeGateway{generate: func(gateway.GenerateRequest) (*gateway.Result, error) {
		return &gateway.Result{Calls: []functions.Call{{
			Kind: functions.SetQuiz,
			Questions: []models.QuizQuestion{
				{Time: "0:10", Question: "1+1", Options: []string{"1", "2", "3", "4"}, Answer: "2"},
				{Time: "0:20", Question: "2+2", Options: []string{"1", "2", "3", "4"}, Answer: "4"},
				{Time: "0:30", Question: "3+0", Options: []string{"1", "2", "3", "4"}, Answer: "3"},
			},
		}}}, nil
	}}
	s := NewSession(gw, hist, nil)
	if err := s.StartUpload(context.Background(), strings.NewReader("v"), "math.mp4", "video/mp4", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.SelectMode(context.Background(), modes.Quiz, ""); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSignalsIgnoredWhenLoggedOut(t *testing.T) {
	hist := &fakeHistory{}
	s := quizSession(t, hist)

	s.ReportWatchProgress(10, 100, nil)
	s.FlipCard("atom")
	score, err := s.SubmitQuiz([]string{"2", "4", "3"})
	if err != nil {
		t.Fatal(err)
	}
	if score.Score != 3 || score.Total != 3 {
		t.Errorf("score = %+v", score)
	}
	if len(hist.signals) != 0 {
		t.Errorf("signals recorded while logged out: %+v", hist.signals)
	}
}

func TestSignalsRecordedWhenLoggedIn(t *testing.T) {
	hist := &fakeHistory{}
	s := quizSession(t, hist)
	s.SetLoggedIn(true)

	if err := s.ReportWatchProgress(0, 100, []models.WatchedRange{{0, 20}, {10, 30}, {50, 60}}); err != nil {
		t.Fatal(err)
	}
	score, err := s.SubmitQuiz([]string{"2", "1"})
	if err != nil {
		t.Fatal(err)
	}
	if score.Score != 1 || score.Total != 3 {
		t.Errorf("score = %+v", score)
	}
	s.FlipCard("sum")

	if len(hist.signals) != 4 {
		t.Fatalf("expected 4 signals, got %+v", hist.signals)
	}
	progress := hist.signals[0]
	if progress.kind != "progress" || progress.videoID != "math.mp4" || progress.a != 40 || progress.b != 100 {
		t.Errorf("progress = %+v", progress)
	}
	if r := hist.signals[1]; r.kind != "ranges" || len(r.ranges) != 2 {
		t.Errorf("ranges = %+v", r)
	}
	if q := hist.signals[2]; q.kind != "quiz" || q.a != 1 || q.b != 3 {
		t.Errorf("quiz = %+v", q)
	}
	if f := hist.signals[3]; f.kind != "flip" || f.term != "sum" {
		t.Errorf("flip = %+v", f)
	}
}

func TestSubmitQuizWithoutQuiz(t *testing.T) {
	s := readySession(t, &fakeGateway{})
	if _, err := s.SubmitQuiz([]string{"a"}); !errors.Is(err, ErrNoQuiz) {
		t.Errorf("expected ErrNoQuiz, got %v", err)
	}
}

type fakeUploadLog struct {
	created []*models.VideoRecord
	states  []models.VideoState
}

func (l *fakeUploadLog) CreateVideoRecord(v *models.VideoRecord) error {
	v.ID = "rec-1"
	l.created = append(l.created, v)
	return nil
}

func (l *fakeUploadLog) UpdateVideoStatus(id string, state models.VideoState, file *models.UploadedFile, errMsg *string) error {
	l.states = append(l.states, state)
	return nil
}

func TestUploadLogged(t *testing.T) {
	uploads := &fakeUploadLog{}
	s := NewSession(&fakeGateway{}, nil, uploads)
	if err := s.StartUpload(context.Background(), strings.NewReader("v"), "a.mp4", "video/mp4", ""); err != nil {
		t.Fatal(err)
	}
	if len(uploads.created) != 1 || uploads.created[0].DisplayName != "a.mp4" {
		t.Errorf("upload not logged: %+v", uploads.created)
	}
	if len(uploads.states) != 1 || uploads.states[0] != models.VideoReady {
		t.Errorf("states = %v", uploads.states)
	}
	if s.Snapshot().UploadID != "rec-1" {
		t.Error("upload id missing from snapshot")
	}
}
