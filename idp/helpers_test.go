package idp

import (
	"context"
	"time"
)

func testContext() context.Context {
	return context.Background()
}

func fixedNow() time.Time {
	return time.Unix(1_700_000_000, 0)
}
