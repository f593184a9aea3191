package inbox

import "net/http"

// workerScript is served at the well-known worker path. It shows pushed
// notifications and focuses the action URL on click.
const workerScript = `self.addEventListener('push', (event) => {
  let data = {};
  try { data = event.data ? event.data.json() : {}; } catch (e) { data = { title: event.data && event.data.text() }; }
  const title = data.title || 'New notification';
  event.waitUntil(self.registration.showNotification(title, {
    body: data.message || '',
    tag: data.id,
    data: { url: data.action_url || '/' },
  }));
});

self.addEventListener('notificationclick', (event) => {
  event.notification.close();
  event.waitUntil(clients.openWindow(event.notification.data.url));
});
`

func handleWorkerScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Service-Worker-Allowed", "/")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(workerScript))
}
