package handlers

import "fmt"

// validateUserId はユーザーIDのバリデーションを行います
// ユーザーIDが空の場合はエラーを返します
func validateUserId(userId string) error {
	if normalizeID(userId) == "" {
		return fmt.Errorf("userId required")
	}
	return nil
}

// validateClassId はクラスIDのバリデーションを行います
func validateClassId(classId string) error {
	if normalizeID(classId) == "" {
		return fmt.Errorf("classId required")
	}
	return nil
}

// validateMeetingId はミーティングIDのバリデーションを行います
func validateMeetingId(meetingId string) error {
	if normalizeID(meetingId) == "" {
		return fmt.Errorf("meetingId required")
	}
	return nil
}
