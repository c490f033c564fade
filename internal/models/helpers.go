package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

func GenerateBagID() string {
	return fmt.Sprintf("bag_%s_%s",
		time.Now().Format("20060102"),
		uuid.NewString())
}

func GenerateBatchID() string {
	return uuid.NewString()
}

func GenerateEventID() string {
	return uuid.NewString()
}
