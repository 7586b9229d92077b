package purchase

import (
	"encoding/json"
	"fmt"
	"time"

	"flowmarket/pkg/task"
	"flowmarket/pkg/taskname"

	"github.com/hibiken/asynq"
)

type ConfirmationPayload struct {
	PurchaseID string `json:"purchase_id"`
}

func NewConfirmationTask(purchaseID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ConfirmationPayload{PurchaseID: purchaseID})
	if err != nil {
		return nil, fmt.Errorf("marshal confirmation payload: %w", err)
	}
	return asynq.NewTask(taskname.PurchaseConfirmation, payload), nil
}

// one confirmation per purchase, even if reconciliation is retried
func confirmationOptions(purchaseID string) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(task.QueueDefault),
		asynq.MaxRetry(5),
		asynq.Timeout(time.Minute),
		asynq.TaskID("confirmation:" + purchaseID),
	}
}
