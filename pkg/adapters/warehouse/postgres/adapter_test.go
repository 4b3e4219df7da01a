package postgres

import (
	"math/big"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/dashboard-gateway/pkg/adapters/warehouse"
	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
)

func TestConnectionString(t *testing.T) {
	tests := []struct {
		name    string
		cfg     warehouse.Config
		want    string
		wantErr bool
	}{
		{
			name: "dsn wins",
			cfg:  warehouse.Config{DSN: "postgres://a@b/c", Host: "ignored"},
			want: "postgres://a@b/c",
		},
		{
			name: "fields with defaults",
			cfg:  warehouse.Config{Host: "db", User: "reader", Password: "p@ss/word", Database: "marts"},
			want: "postgresql://reader:p%40ss%2Fword@db:5432/marts?sslmode=require",
		},
		{
			name: "explicit port and ssl mode",
			cfg:  warehouse.Config{Host: "db", Port: 6543, User: "reader", Database: "marts", SSLMode: "disable"},
			want: "postgresql://reader:@db:6543/marts?sslmode=disable",
		},
		{name: "missing host", cfg: warehouse.Config{Database: "marts"}, wantErr: true},
		{name: "missing database", cfg: warehouse.Config{Host: "db"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := connectionString(&tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPositionalArgs(t *testing.T) {
	args := []models.NamedArg{
		{Name: "period_from", Value: civil.Date{Year: 2025, Month: time.January, Day: 1}},
		{Name: "client_id", Value: "acme"},
		{Name: "tags", Value: []string{"a"}},
	}
	got := positionalArgs(args)
	require.Len(t, got, 3)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), got[0])
	assert.Equal(t, "acme", got[1])
	assert.Equal(t, []string{"a"}, got[2])
}

func TestConvertValue(t *testing.T) {
	day := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-01-31", convertValue(day, pgtype.DateOID))
	assert.Equal(t, day, convertValue(day, pgtype.TimestamptzOID))

	num := pgtype.Numeric{Int: big.NewInt(1250), Exp: -2, Valid: true}
	assert.Equal(t, 12.5, convertValue(num, pgtype.NumericOID))
	assert.Nil(t, convertValue(pgtype.Numeric{}, pgtype.NumericOID))

	id := [16]byte{0x55, 0x0e, 0x84, 0x00, 0xe2, 0x9b, 0x41, 0xd4, 0xa7, 0x16, 0x44, 0x66, 0x55, 0x44, 0x00, 0x00}
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", convertValue(id, pgtype.UUIDOID))

	assert.Equal(t, "text", convertValue("text", pgtype.TextOID))
}
