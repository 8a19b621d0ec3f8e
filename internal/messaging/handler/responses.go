package handler

import "parley/internal/messaging/models"

type MessagesResponse struct {
	Messages []*models.Message `json:"messages"`
	Total    int               `json:"total"`
}

type HistoryResponse struct {
	MessageID string                   `json:"message_id"`
	History   []*models.MessageHistory `json:"history"`
}

type NotificationsResponse struct {
	Notifications []*models.Notification `json:"notifications"`
	Total         int                    `json:"total"`
}

func newMessagesResponse(msgs []*models.Message) MessagesResponse {
	if msgs == nil {
		msgs = []*models.Message{}
	}
	return MessagesResponse{Messages: msgs, Total: len(msgs)}
}

func newNotificationsResponse(ns []*models.Notification) NotificationsResponse {
	if ns == nil {
		ns = []*models.Notification{}
	}
	return NotificationsResponse{Notifications: ns, Total: len(ns)}
}
