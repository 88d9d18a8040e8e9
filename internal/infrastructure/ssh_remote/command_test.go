package ssh_remote

import (
	"testing"

	"github.com/davarch/rollout/internal/domain"
)

func TestRender_QuotesArguments(t *testing.T) {
	got := Render(domain.Command{Args: []string{"pkill", "-f", "[j]ava .*-jar /opt/app/test/app.jar"}})
	want := `pkill -f '[j]ava .*-jar /opt/app/test/app.jar'`
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestRender_NoInjection(t *testing.T) {
	got := Render(domain.Command{Args: []string{"docker", "pull", "img; rm -rf /"}})
	want := `docker pull 'img; rm -rf /'`
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestRender_Background(t *testing.T) {
	got := Render(domain.Command{
		Args:       []string{"java", "-jar", "/opt/app/app.jar"},
		Background: true,
		LogFile:    "/opt/app/app log.txt",
	})
	want := `nohup java -jar /opt/app/app.jar > '/opt/app/app log.txt' 2>&1 < /dev/null &`
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}
