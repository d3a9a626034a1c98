package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"google.golang.org/genai"

	"vidlense/internal/functions"
	"vidlense/internal/models"
)

var (
	ErrUpload      = errors.New("upload failed")
	ErrGeneration  = errors.New("generation failed")
	ErrTranslation = errors.New("translation failed")
	ErrNoteAction  = errors.New("note action failed")
	ErrCancelled   = errors.New("cancelled")
)

const systemInstruction = `You are a helpful assistant for video analysis. When asked to perform a task, call the relevant function to provide the answer. IMPORTANT: If the data to be returned is large (e.g., a long script), you MUST make multiple function calls with smaller chunks of the data instead of one large call, to ensure all data is returned successfully.`

// Config holds gateway related configuration
type Config struct {
	APIKey       string
	ModelName    string        // e.g., "gemini-2.5-flash"
	Temperature  float32       // Used for mode generation; 0 is a valid setting
	PollInterval time.Duration // Wait between file status checks while the service processes an upload
}

// fileService is the subset of genai.Files used here.
type fileService interface {
	Upload(ctx context.Context, r io.Reader, config *genai.UploadFileConfig) (*genai.File, error)
	Get(ctx context.Context, name string, config *genai.GetFileConfig) (*genai.File, error)
}

// modelService is the subset of genai.Models used here.
type modelService interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Service talks to the generative AI backend.
type Service struct {
	cfg   *Config
	files fileService
	gen   modelService
}

// NewService creates a gateway backed by the Gemini API.
func NewService(ctx context.Context, cfg *Config) (*Service, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gateway requires a valid Gemini API key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return newService(cfg, client.Files, client.Models), nil
}

func newService(cfg *Config, files fileService, gen modelService) *Service {
	if cfg.ModelName == "" {
		cfg.ModelName = "gemini-2.5-flash"
		log.Printf("Gateway model name not configured, defaulting to %s", cfg.ModelName)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Service{cfg: cfg, files: files, gen: gen}
}

// Upload sends the video to the service and waits until processing reaches a
// terminal state. tok is checked after the upload is accepted and after every
// status poll; once it is cancelled Upload returns ErrCancelled and no handle.
func (s *Service) Upload(ctx context.Context, r io.Reader, displayName, mimeType string, tok *CancelToken) (*models.UploadedFile, error) {
	log.Printf("Gateway Upload: uploading %s (%s)", displayName, mimeType)
	f, err := s.files.Upload(ctx, r, &genai.UploadFileConfig{
		DisplayName: displayName,
		MIMEType:    mimeType,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: submit %s: %w", ErrUpload, displayName, err)
	}
	if tok.Cancelled() {
		return nil, ErrCancelled
	}
	name := f.Name

	f, err = s.files.Get(ctx, name, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", ErrUpload, name, err)
	}
	for processingState(f.State) == models.StateProcessing {
		log.Printf("Gateway Upload: %s is still processing, retrying in %s", name, s.cfg.PollInterval)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrUpload, ctx.Err())
		case <-time.After(s.cfg.PollInterval):
		}
		if tok.Cancelled() {
			return nil, ErrCancelled
		}
		f, err = s.files.Get(ctx, name, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: get %s: %w", ErrUpload, name, err)
		}
	}
	if tok.Cancelled() {
		return nil, ErrCancelled
	}
	state := processingState(f.State)
	if state == models.StateFailed {
		return nil, fmt.Errorf("%w: processing of %s failed", ErrUpload, name)
	}

	handle := &models.UploadedFile{
		Name:            f.Name,
		MIMEType:        f.MIMEType,
		URI:             f.URI,
		ProcessingState: state,
	}
	if handle.MIMEType == "" {
		handle.MIMEType = mimeType
	}
	log.Printf("Gateway Upload: %s ready at %s", handle.Name, handle.URI)
	return handle, nil
}

// processingState maps the service's file state. Anything that is neither
// processing nor failed counts as ready.
func processingState(st genai.FileState) models.ProcessingState {
	switch st {
	case genai.FileStateProcessing:
		return models.StateProcessing
	case genai.FileStateFailed:
		return models.StateFailed
	default:
		return models.StateReady
	}
}

// GenerateRequest is one mode generation against an uploaded file.
type GenerateRequest struct {
	Prompt    string
	Functions []functions.Kind // Empty means every declared function
	File      *models.UploadedFile
}

// Result carries the decoded function calls in arrival order. Text is only
// set when the service answered without calling any function.
type Result struct {
	Text  string
	Calls []functions.Call
}

// Generate issues a single generation request with the function schemas attached.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*Result, error) {
	if req.File == nil {
		return nil, fmt.Errorf("%w: no file attached", ErrGeneration)
	}

	parts := []*genai.Part{
		genai.NewPartFromText(req.Prompt),
		genai.NewPartFromURI(req.File.URI, req.File.MIMEType),
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		Temperature:       float32Ptr(s.cfg.Temperature),
		Tools: []*genai.Tool{
			{FunctionDeclarations: functions.Declarations(req.Functions...)},
		},
	}

	resp, err := s.gen.GenerateContent(ctx, s.cfg.ModelName, contents, config)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", ErrGeneration)
	}

	result := &Result{}
	calls := resp.FunctionCalls()
	for _, fc := range calls {
		call, err := functions.Decode(fc.Name, fc.Args)
		if err != nil {
			log.Printf("Gateway Generate: skipping function call %s: %v", fc.Name, err)
			continue
		}
		result.Calls = append(result.Calls, call)
	}
	if len(calls) == 0 {
		result.Text = resp.Text()
	}
	log.Printf("Gateway Generate: %d function calls, %d bytes of text", len(result.Calls), len(result.Text))
	return result, nil
}

func float32Ptr(v float32) *float32 { return &v }
