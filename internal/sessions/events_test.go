package sessions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"lexmatch-backend/internal/model"
)

func TestJoinQueuePayloadValidate(t *testing.T) {
	tests := []struct {
		name    string
		payload JoinQueuePayload
		wantErr bool
	}{
		{"valid learner", JoinQueuePayload{Role: model.RoleLearner, Language: "es"}, false},
		{"valid fluent", JoinQueuePayload{Role: model.RoleFluent, Language: "jp"}, false},
		{"missing role", JoinQueuePayload{Language: "es"}, true},
		{"missing language", JoinQueuePayload{Role: model.RoleLearner}, true},
		{"bogus role", JoinQueuePayload{Role: "tutor", Language: "es"}, true},
		{"unsupported language", JoinQueuePayload{Role: model.RoleLearner, Language: "xx"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestQueueStatusPayloadValidate(t *testing.T) {
	assert.NoError(t, QueueStatusPayload{Role: model.RoleLearner, Language: "es"}.Validate())
	assert.Error(t, QueueStatusPayload{Role: model.RoleLearner}.Validate())
	assert.Error(t, QueueStatusPayload{Language: "es"}.Validate())
	assert.Error(t, QueueStatusPayload{Role: "x", Language: "es"}.Validate())
}
