package logging

import (
	"encoding/json"
	"log"
	"time"
)

type Fields struct {
	Component   string `json:"component"`
	OrderNumber string `json:"order_number,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	ProductID   string `json:"product_id,omitempty"`
	EventID     string `json:"event_id,omitempty"`
	Status      string `json:"status,omitempty"`
	Message     string `json:"message,omitempty"`
	Err         string `json:"error,omitempty"`
}

func Log(fields Fields) {
	payload := map[string]any{
		"component": fields.Component,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if fields.OrderNumber != "" {
		payload["order_number"] = fields.OrderNumber
	}
	if fields.UserID != "" {
		payload["user_id"] = fields.UserID
	}
	if fields.ProductID != "" {
		payload["product_id"] = fields.ProductID
	}
	if fields.EventID != "" {
		payload["event_id"] = fields.EventID
	}
	if fields.Status != "" {
		payload["status"] = fields.Status
	}
	if fields.Message != "" {
		payload["message"] = fields.Message
	}
	if fields.Err != "" {
		payload["error"] = fields.Err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("{\"component\":%q,\"status\":\"log_error\",\"error\":%q}", fields.Component, err.Error())
		return
	}
	log.Print(string(data))
}
