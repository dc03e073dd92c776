// Package containers starts throwaway service containers for integration
// tests: MySQL for the firing and rule repositories, Mosquitto for the MQTT
// bridge and ntfy as a real chat-webhook target.
//
// Files in this package carry the "integration" build tag, as must the
// tests that use them:
//
//	go test -tags=integration ./...
//
// A package usually starts one container in TestMain and shares it:
//
//	var broker *containers.MosquittoContainer
//
//	func TestMain(m *testing.M) {
//		var err error
//		broker, err = containers.NewMosquittoContainer(context.Background(), nil)
//		if err != nil {
//			panic(err)
//		}
//		code := m.Run()
//		_ = broker.Terminate(context.Background())
//		os.Exit(code)
//	}
package containers
