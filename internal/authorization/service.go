package authorization

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Service decides whether an actor may perform an action on an object inside
// an organization. Actors are formatted as "user:<id>".
type Service interface {
	Authorize(ctx context.Context, actor string, orgID snowflake.ID, object string, action string) error
}

// UserActor formats a user id as a casbin subject.
func UserActor(userID snowflake.ID) string {
	return "user:" + userID.String()
}
