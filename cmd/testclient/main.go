package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dasmlab/doctrans/pkg/pipeline"
	"github.com/sirupsen/logrus"
)

var (
	serverURL  = flag.String("url", "http://localhost:8080", "doctrans HTTP base URL")
	grpcAddr   = flag.String("grpc-addr", "", "gRPC health address to check first (e.g. localhost:50051)")
	sourceLang = flag.String("source", "en", "Source language code, or auto")
	targetLang = flag.String("target", "es", "Target language code")
	inputFile  = flag.String("file", "", "Path to the document to translate")
	text       = flag.String("text", "", "Text to translate (if file not provided)")
	outDir     = flag.String("out", ".", "Directory for the translated document")
	timeout    = flag.Duration("timeout", 10*time.Minute, "Overall timeout")
)

func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	name, data := readInput(logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *grpcAddr != "" {
		checkGRPCHealth(ctx, logger)
	}

	logger.WithFields(logrus.Fields{
		"server":      *serverURL,
		"file":        name,
		"bytes":       len(data),
		"source_lang": *sourceLang,
		"target_lang": *targetLang,
	}).Info("Uploading document...")

	var job pipeline.Snapshot
	if err := upload(ctx, name, data, &job); err != nil {
		logger.WithError(err).Fatal("Upload failed")
	}
	logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"format": job.Format,
	}).Info("Job started")

	job, err := waitForJob(ctx, job.ID, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed waiting for job")
	}
	if job.State == pipeline.StateError {
		fields := logrus.Fields{"job_id": job.ID}
		if job.Error != nil {
			fields["kind"] = job.Error.Kind
			fields["error"] = job.Error.Message
		}
		logger.WithFields(fields).Fatal("Translation failed")
	}

	path, err := download(ctx, job)
	if err != nil {
		logger.WithError(err).Fatal("Download failed")
	}

	for _, w := range job.Warnings {
		logger.WithField("job_id", job.ID).Warn(w)
	}
	logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"output": path,
	}).Info("Translation completed")
}

func readInput(logger *logrus.Logger) (string, []byte) {
	switch {
	case *inputFile != "":
		data, err := os.ReadFile(*inputFile)
		if err != nil {
			logger.WithError(err).Fatalf("Failed to read file: %s", *inputFile)
		}
		return filepath.Base(*inputFile), data
	case *text != "":
		return "input.txt", []byte(*text)
	default:
		logger.Fatal("Either -file or -text must be provided")
	}
	return "", nil
}

func checkGRPCHealth(ctx context.Context, logger *logrus.Logger) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(dialCtx, *grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to gRPC health server")
	}
	defer conn.Close()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(dialCtx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		logger.WithError(err).Fatal("Health check failed")
	}
	logger.WithField("status", resp.GetStatus().String()).Info("Server health")
}

func upload(ctx context.Context, name string, data []byte, out *pipeline.Snapshot) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range map[string]string{"source": *sourceLang, "target": *targetLang, "start": "true"} {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *serverURL+"/api/v1/jobs", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return doJSON(req, http.StatusAccepted, out)
}

func waitForJob(ctx context.Context, jobID string, logger *logrus.Logger) (pipeline.Snapshot, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	lastProgress := -1
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, *serverURL+"/api/v1/jobs/"+jobID, nil)
		if err != nil {
			return pipeline.Snapshot{}, err
		}
		var snap pipeline.Snapshot
		if err := doJSON(req, http.StatusOK, &snap); err != nil {
			return pipeline.Snapshot{}, err
		}

		if snap.Progress != lastProgress {
			logger.WithFields(logrus.Fields{
				"status":   snap.State,
				"progress": snap.Progress,
				"message":  snap.Message,
			}).Info("Progress")
			lastProgress = snap.Progress
		}
		if snap.State.Terminal() {
			return snap, nil
		}

		select {
		case <-ctx.Done():
			return pipeline.Snapshot{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func download(ctx context.Context, job pipeline.Snapshot) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, *serverURL+"/api/v1/jobs/"+job.ID+"/artifact", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("artifact: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	name := "translated"
	if job.Artifact != nil {
		name = job.Artifact.FileName
	}
	path := filepath.Join(*outDir, filepath.Base(name))

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

func doJSON(req *http.Request, want int, out interface{}) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%s %s: %s: %s", req.Method, req.URL.Path, resp.Status, apiErr.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
