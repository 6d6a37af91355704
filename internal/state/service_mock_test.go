package state_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/chameleoncloud/doni/internal/state"
	"github.com/chameleoncloud/doni/internal/state/mocks"
)

func TestService_StoreErrors(t *testing.T) {
	t.Parallel()

	key := state.Key{HardwareID: uuid.New(), WorkerType: "fake"}
	pending := &state.WorkerState{HardwareID: key.HardwareID, WorkerType: key.WorkerType, State: state.StatePending, Generation: 3}
	storeErr := errors.New("connection reset")

	tests := []struct {
		name      string
		setup     func(m *mocks.MockStore)
		run       func(svc *state.Service) error
		wantIs    error
		wantNotIs error
	}{
		{
			name: "claim conflict is not an error",
			setup: func(m *mocks.MockStore) {
				m.EXPECT().CompareAndSwap(gomock.Any(), gomock.Any(), int64(3)).Return(state.ErrConflict)
			},
			run: func(svc *state.Service) error {
				_, err := svc.Claim(context.Background(), pending, "proc")
				return err
			},
			wantIs: state.ErrClaimNotAcquired,
		},
		{
			name: "claim store failure is surfaced",
			setup: func(m *mocks.MockStore) {
				m.EXPECT().CompareAndSwap(gomock.Any(), gomock.Any(), int64(3)).Return(storeErr)
			},
			run: func(svc *state.Service) error {
				_, err := svc.Claim(context.Background(), pending, "proc")
				return err
			},
			wantIs:    storeErr,
			wantNotIs: state.ErrClaimNotAcquired,
		},
		{
			name: "ensure falls back to existing record",
			setup: func(m *mocks.MockStore) {
				m.EXPECT().Create(gomock.Any(), gomock.Any()).Return(state.ErrConflict)
				m.EXPECT().Get(gomock.Any(), key).Return(pending, nil)
			},
			run: func(svc *state.Service) error {
				ws, err := svc.Ensure(context.Background(), key)
				if err == nil && ws.Generation != 3 {
					return errors.New("expected existing record")
				}
				return err
			},
		},
		{
			name: "tombstone gives up after repeated conflicts",
			setup: func(m *mocks.MockStore) {
				m.EXPECT().Get(gomock.Any(), key).Return(pending, nil).Times(3)
				m.EXPECT().CompareAndSwap(gomock.Any(), gomock.Any(), int64(3)).Return(state.ErrConflict).Times(3)
			},
			run: func(svc *state.Service) error {
				return svc.Tombstone(context.Background(), key)
			},
			wantIs: state.ErrConflict,
		},
		{
			name: "invalidate surfaces list failure",
			setup: func(m *mocks.MockStore) {
				m.EXPECT().ListByHardware(gomock.Any(), key.HardwareID).Return(nil, storeErr)
			},
			run: func(svc *state.Service) error {
				_, err := svc.Invalidate(context.Background(), key.HardwareID)
				return err
			},
			wantIs: storeErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			store := mocks.NewMockStore(ctrl)
			tt.setup(store)

			svc := state.NewService(store, state.Policy{LeaseTimeout: time.Minute})
			err := tt.run(svc)
			if tt.wantIs == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantIs)
			if tt.wantNotIs != nil {
				assert.NotErrorIs(t, err, tt.wantNotIs)
			}
		})
	}
}
