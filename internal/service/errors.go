package service

import "errors"

// カスタムエラー定義
var (
	ErrMeetingNotFound           = errors.New("meeting not found")
	ErrNotMeetingOwner           = errors.New("forbidden: not meeting owner")
	ErrMeetingAlreadyExists      = errors.New("meeting already exists")
	ErrMeetingIDGenerationFailed = errors.New("failed to generate unique meeting ID after multiple attempts")
	ErrParticipantNotFound       = errors.New("participant not found")
	ErrRecordingNotFound         = errors.New("recording not found")
	ErrRecordingBlobNotFound     = errors.New("recording file not found")
	ErrSecureURLUnavailable      = errors.New("secure URL unavailable: object store not configured")
)
