package appstore

import "testing"

func TestFromItunesMapsFields(t *testing.T) {
	apps := fromItunes([]itunesResult{{
		TrackName:     "Streaks",
		ArtistName:    "Crunchy Bagel",
		BundleID:      "com.crunchybagel.streaks",
		TrackViewURL:  "https://apps.apple.com/app/id963034692",
		Description:   "The to-do list that helps you form good habits.\nLong body follows.",
		Price:         4.99,
		AverageRating: 4.8,
		RatingCount:   12000,
		Genres:        []string{"Health & Fitness"},
	}})

	if len(apps) != 1 {
		t.Fatalf("expected 1 app, got %d", len(apps))
	}
	app := apps[0]
	if app.Platform != "ios" {
		t.Fatalf("platform = %q", app.Platform)
	}
	if app.Free {
		t.Fatalf("paid app flagged free")
	}
	if app.Developer != "Crunchy Bagel" {
		t.Fatalf("developer = %q", app.Developer)
	}
	if app.Tagline != "The to-do list that helps you form good habits." {
		t.Fatalf("tagline = %q", app.Tagline)
	}
}

func TestFromItunesPrefersSellerName(t *testing.T) {
	apps := fromItunes([]itunesResult{{
		TrackName:  "Habit Pixel",
		ArtistName: "jane-doe-artist",
		SellerName: "Jane Doe Studio",
	}})
	if apps[0].Developer != "Jane Doe Studio" {
		t.Fatalf("developer = %q", apps[0].Developer)
	}
}

func TestPlayLinkExtraction(t *testing.T) {
	page := `<a href="/store/apps/details?id=com.example.habit">x</a>
<a href="/store/apps/details?id=com.example.habit">dup</a>
<a href="/store/apps/details?id=org.loop.track">y</a>`

	matches := playAppRe.FindAllStringSubmatch(page, -1)
	if len(matches) != 3 {
		t.Fatalf("expected 3 raw matches, got %d", len(matches))
	}
	if matches[0][2] != "com.example.habit" || matches[2][2] != "org.loop.track" {
		t.Fatalf("unexpected package ids: %v", matches)
	}
}

func TestCleanPlayTitle(t *testing.T) {
	got := cleanPlayTitle("  Loop Habit Tracker - Apps on Google Play ")
	if got != "Loop Habit Tracker" {
		t.Fatalf("title = %q", got)
	}
}
