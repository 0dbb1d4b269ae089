// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/leseb/storybridge/pkg/core/state"
)

type sampleStory struct {
	title       string
	description string
}

var sampleStories = []sampleStory{
	{"Login", "As a user, I want to be able to log in to my account using email and password so that I can access my personal dashboard."},
	{"Password reset", "As a user, I want to be able to reset my password if I forget it so that I can regain access to my account."},
	{"Profile update", "As a user, I want to be able to update my profile information so that my account details are always current."},
	{"Order history", "As a user, I want to be able to view my order history so that I can track my past purchases."},
	{"Shopping cart", "As a user, I want to be able to add items to my shopping cart so that I can purchase multiple items at once."},
	{"Category search", "As a user, I want to be able to search for products by category so that I can easily find what I am looking for."},
	{"Price filter", "As a user, I want to be able to filter search results by price range so that I can find products within my budget."},
	{"Wishlist", "As a user, I want to be able to save products to my wishlist so that I can view them later."},
	{"Order notifications", "As a user, I want to be able to receive email notifications about my order status so that I can track my delivery."},
	{"Product reviews", "As a user, I want to be able to rate and review products after purchase so that I can share my experience with others."},
}

// loginTestCases belong to the first sample story.
var loginTestCases = []state.TestCase{
	{ID: "TC1.1", Description: "Verify successful login with valid email and password", Steps: []string{"Enter valid email", "Enter valid password", "Click login button"}, ExpectedResult: "User should be logged in and redirected to dashboard"},
	{ID: "TC1.2", Description: "Verify error message for invalid email format", Steps: []string{"Enter invalid email format", "Enter any password", "Click login button"}, ExpectedResult: "Error message should display for invalid email format"},
	{ID: "TC1.3", Description: "Verify error message for empty password", Steps: []string{"Enter valid email", "Leave password empty", "Click login button"}, ExpectedResult: "Error message should display for empty password"},
	{ID: "TC1.4", Description: "Verify error message for incorrect password", Steps: []string{"Enter valid email", "Enter incorrect password", "Click login button"}, ExpectedResult: "Error message should display for incorrect password"},
	{ID: "TC1.5", Description: "Verify remember me functionality", Steps: []string{"Enter valid credentials", "Check remember me box", "Click login button", "Logout", "Reopen browser"}, ExpectedResult: "Email should be pre-filled on login page"},
	{ID: "TC1.6", Description: "Verify password field masks input", Steps: []string{"Enter password in password field"}, ExpectedResult: "Password should be masked with asterisks"},
	{ID: "TC1.7", Description: "Verify login button is disabled with empty fields", Steps: []string{"Leave email empty", "Leave password empty"}, ExpectedResult: "Login button should be disabled"},
	{ID: "TC1.8", Description: "Verify maximum login attempts", Steps: []string{"Enter valid email", "Enter incorrect password", "Repeat 5 times"}, ExpectedResult: "Account should be temporarily locked after 5 failed attempts"},
	{ID: "TC1.9", Description: "Verify session timeout", Steps: []string{"Login successfully", "Leave browser idle for 30 minutes"}, ExpectedResult: "User should be logged out and redirected to login page"},
	{ID: "TC1.10", Description: "Verify concurrent login handling", Steps: []string{"Login from first browser", "Attempt login from second browser"}, ExpectedResult: "First session should be terminated and second login should succeed"},
}

// SeedResult lists what Seed created.
type SeedResult struct {
	StoryIDs   []string
	ArtifactID int64
}

// Seed loads the sample catalog: ten stories dated one per day over the
// last ten days, the oldest of which carries a generation run of ten test
// cases.
func (s *IngestionService) Seed(ctx context.Context) (*SeedResult, error) {
	now := s.now()
	res := &SeedResult{StoryIDs: make([]string, 0, len(sampleStories))}

	for i, st := range sampleStories {
		ts := now.AddDate(0, 0, i-len(sampleStories))
		id, err := s.addStoryAt(ctx, st.title, st.description, ts)
		if err != nil {
			return res, fmt.Errorf("seed story %q: %w", st.title, err)
		}
		res.StoryIDs = append(res.StoryIDs, id)
	}

	start := now.AddDate(0, 0, -len(sampleStories))
	end := start.Add(5 * time.Minute)
	cases := append([]state.TestCase(nil), loginTestCases...)
	artifactID, err := s.AddTestCases(ctx, res.StoryIDs[0], cases, start, &end)
	if err != nil {
		return res, fmt.Errorf("seed test cases: %w", err)
	}
	res.ArtifactID = artifactID

	s.logger.Info("sample data loaded", "num_stories", len(res.StoryIDs), "artifact_id", artifactID)
	return res, nil
}
