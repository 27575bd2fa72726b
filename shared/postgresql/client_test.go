package postgresql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   string
	}{
		{
			name:   "defaults sslmode",
			config: Config{Host: "localhost", Port: 5432, User: "pyrx", Password: "pyrx", Database: "pyrx"},
			want:   "host=localhost port=5432 user=pyrx dbname=pyrx sslmode=disable password=pyrx",
		},
		{
			name:   "quotes special characters",
			config: Config{Host: "db", Port: 5433, User: "app", Password: `it's a secret`, Database: "pyrx", SSLMode: "require"},
			want:   `host=db port=5433 user=app dbname=pyrx sslmode=require password='it\'s a secret'`,
		},
		{
			name:   "omits empty password",
			config: Config{Host: "db", Port: 5432, User: "app", Database: "pyrx"},
			want:   "host=db port=5432 user=app dbname=pyrx sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.DSN())
		})
	}
}
