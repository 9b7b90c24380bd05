// The moderator service tails the chat server's moderation and presence
// event streams over NATS and writes them out as a structured audit log.
// It holds no state; restarting it only loses events published while it
// was down.
package main

import (
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parley/chat-server/internal/messaging"
)

func main() {
	log.Println("Starting Parley moderation audit service...")

	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "parley-moderator"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	err = natsClient.SubscribeModeration(func(subject string, data []byte) {
		switch subject {
		case messaging.SubjectReportFiled:
			var ev messaging.ReportEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				log.Printf("[audit] bad report event: %v", err)
				return
			}
			log.Printf("[audit] REPORT reported=%s reporter=%s scope=%s count=%d auto_banned=%v",
				ev.ReportedID, ev.ReporterID, ev.Scope, ev.Count, ev.AutoBanned)

		case messaging.SubjectBanCreated:
			var ev messaging.BanEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				log.Printf("[audit] bad ban event: %v", err)
				return
			}
			expires := "never"
			if ev.ExpiresAt > 0 {
				expires = time.Unix(ev.ExpiresAt, 0).UTC().Format(time.RFC3339)
			}
			log.Printf("[audit] BAN id=%s user=%s scope=%s reason=%s by=%s expires=%s reporters=%d",
				ev.BanID, ev.UserID, ev.Scope, ev.Reason, ev.BannedBy, expires, len(ev.ReporterIDs))

		case messaging.SubjectBanLifted:
			var ev messaging.BanEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				log.Printf("[audit] bad unban event: %v", err)
				return
			}
			log.Printf("[audit] UNBAN id=%s user=%s scope=%s lifted_by=%s",
				ev.BanID, ev.UserID, ev.Scope, ev.ActorID)

		default:
			log.Printf("[audit] %s %s", subject, data)
		}
	})
	if err != nil {
		log.Fatalf("failed to subscribe to moderation events: %v", err)
	}

	err = natsClient.SubscribePresence(func(data []byte) {
		var ev messaging.PresenceEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("[audit] bad presence event: %v", err)
			return
		}
		state := "offline"
		if ev.Online {
			state = "online"
		}
		log.Printf("[audit] PRESENCE user=%s %s", ev.UserID, state)
	})
	if err != nil {
		log.Fatalf("failed to subscribe to presence events: %v", err)
	}

	log.Printf("Parley moderation audit service running")
	log.Printf("  nats_url: %s", natsConfig.URL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()
}
