package broadcast_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/okian/amep/internal/adapters/broadcast"
	"github.com/okian/amep/internal/adapters/mq/queue"
	"github.com/okian/amep/internal/domain/model"
	"github.com/okian/amep/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func receive(s *broadcast.Subscriber) (model.Notification, bool) {
	select {
	case n, ok := <-s.C():
		return n, ok
	case <-time.After(time.Second):
		return model.Notification{}, false
	}
}

func TestHubDelivery(t *testing.T) {
	Convey("Given a running hub", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		q := queue.NewInMemoryQueue[model.Notification](queue.WithName("notifications"), queue.WithCapacity(16))
		hub := broadcast.NewHub(q, broadcast.WithSubscriberBuffer(4), broadcast.WithLogger(logger.Nop()))
		hub.Start(ctx)

		all := hub.Subscribe("")
		k1 := hub.Subscribe("k1")
		So(hub.Subscribers(), ShouldEqual, 2)

		Convey("When a class notification is published", func() {
			So(hub.Publish(ctx, model.Notification{Type: model.NotifyEngagementAlert, ClassID: "k1", StudentID: "s1"}), ShouldBeNil)
			So(hub.Publish(ctx, model.Notification{Type: model.NotifyMasteryUpdated, ClassID: "k2"}), ShouldBeNil)

			Convey("Then subscribers receive what matches their filter", func() {
				n, ok := receive(all)
				So(ok, ShouldBeTrue)
				So(n.Type, ShouldEqual, model.NotifyEngagementAlert)
				n, ok = receive(all)
				So(ok, ShouldBeTrue)
				So(n.ClassID, ShouldEqual, "k2")

				n, ok = receive(k1)
				So(ok, ShouldBeTrue)
				So(n.StudentID, ShouldEqual, "s1")
				select {
				case <-k1.C():
					So("unexpected delivery", ShouldBeEmpty)
				case <-time.After(50 * time.Millisecond):
				}
			})
		})

		Convey("When a subscriber leaves", func() {
			hub.Unsubscribe(k1)
			hub.Unsubscribe(k1)
			_, ok := <-k1.C()
			So(ok, ShouldBeFalse)
			So(hub.Subscribers(), ShouldEqual, 1)
		})

		Convey("When the hub shuts down", func() {
			So(hub.Shutdown(context.Background()), ShouldBeNil)
			_, ok := <-all.C()
			So(ok, ShouldBeFalse)
			So(hub.Subscribers(), ShouldEqual, 0)
		})
	})
}

func TestWebSocket(t *testing.T) {
	Convey("Given a hub served over WebSocket", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		q := queue.NewInMemoryQueue[model.Notification](queue.WithCapacity(16))
		hub := broadcast.NewHub(q, broadcast.WithLogger(logger.Nop()))
		hub.Start(ctx)
		srv := httptest.NewServer(hub.Handler())
		defer srv.Close()

		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?class_id=k1"
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		So(err, ShouldBeNil)
		defer conn.Close()

		deadline := time.Now().Add(time.Second)
		for hub.Subscribers() == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		So(hub.Subscribers(), ShouldEqual, 1)

		Convey("When a notification for the class is published", func() {
			So(hub.Publish(ctx, model.Notification{Type: model.NotifyEngagementChanged, ClassID: "k1", StudentID: "s9"}), ShouldBeNil)

			Convey("Then the client reads it as JSON", func() {
				_ = conn.SetReadDeadline(time.Now().Add(time.Second))
				var n model.Notification
				So(conn.ReadJSON(&n), ShouldBeNil)
				So(n.Type, ShouldEqual, model.NotifyEngagementChanged)
				So(n.StudentID, ShouldEqual, "s9")
			})
		})
	})
}
