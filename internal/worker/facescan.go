// Package worker holds the background jobs of the worker process.
package worker

import (
	"context"
	"errors"
	"fmt"

	"rollcall/internal/attendance"
	"rollcall/internal/faceclient"
	"rollcall/internal/logging"
	"rollcall/internal/queue"
)

// ErrNotVerified is returned when the face service rejects the image for the subject.
var ErrNotVerified = errors.New("face not verified")

type Verifier interface {
	Verify(ctx context.Context, subjectID, imageURL string) (faceclient.VerifyResult, error)
}

type Scanner interface {
	Scan(ctx context.Context, evt attendance.ScanEvent) (attendance.Record, error)
}

// FaceScans verifies queued face scans and records the verified ones.
type FaceScans struct {
	verifier Verifier
	scanner  Scanner
}

func NewFaceScans(v Verifier, s Scanner) *FaceScans {
	return &FaceScans{verifier: v, scanner: s}
}

// Run handles messages until msgs is closed. Failures are logged and the message dropped.
func (f *FaceScans) Run(ctx context.Context, msgs <-chan queue.Message) {
	log := logging.Logger("facescan")
	for msg := range msgs {
		if msg.Type != queue.TypeFaceScan {
			log.Warn().Str("type", msg.Type).Msg("skipping unknown message type")
			continue
		}
		rec, err := f.Handle(ctx, msg)
		if err != nil {
			log.Warn().Err(err).Msg("face scan not recorded")
			continue
		}
		log.Info().Str("subject", rec.Subject.Key()).Str("status", string(rec.Status)).Msg("face scan recorded")
	}
}

// Handle processes one face scan message.
func (f *FaceScans) Handle(ctx context.Context, msg queue.Message) (attendance.Record, error) {
	scan, err := queue.DecodeFaceScan(msg)
	if err != nil {
		return attendance.Record{}, err
	}
	res, err := f.verifier.Verify(ctx, scan.ID, scan.ImageURL)
	if err != nil {
		return attendance.Record{}, fmt.Errorf("verify %s: %w", scan.Subject.Key(), err)
	}
	if !res.Verified {
		return attendance.Record{}, fmt.Errorf("%w: %s similarity %.2f", ErrNotVerified, scan.Subject.Key(), res.Similarity)
	}
	confidence := res.Similarity
	return f.scanner.Scan(ctx, attendance.ScanEvent{
		Subject:         scan.Subject,
		Method:          attendance.FaceRecognition,
		MatchConfidence: &confidence,
		Timestamp:       scan.Timestamp,
		Offline:         scan.Offline,
	})
}
